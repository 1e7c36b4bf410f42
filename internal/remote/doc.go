// Package remote talks to the upstream publication points: plain-text
// version resources fetched with cache-defeating parameters, and payload
// trees obtained via shallow single-branch git checkouts.
package remote
