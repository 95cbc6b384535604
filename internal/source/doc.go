// Package source holds the registry of scraped sources and the failure
// breaker that wraps their extractors.
//
// Concrete extractors live in subpackages (unity, fab) and fetch pages
// through source/fetch.
package source
