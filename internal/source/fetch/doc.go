// Package fetch retrieves page bodies for extractors, either with a plain
// HTTP GET or through headless Chrome, driven with chromedp, for pages that
// need JavaScript.
package fetch
