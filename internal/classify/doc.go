// Package classify decides whether a chat text fragment is executable code
// and of which flavor.
//
// LLM-authored content is inconsistent about fence tagging, so the
// classifier is layered: an explicit script tag wins, markup is inspected
// for embedded script, and untagged fragments fall through to a weighted
// signal score. The scoring threshold is configuration, not contract.
package classify
