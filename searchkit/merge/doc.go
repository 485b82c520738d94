// Package merge combines the cache and primary result sets of a hybrid search.
//
// Every policy re-sorts the combined items by descending score, breaking ties
// by the original order of the higher-priority side, and truncates to the limit.
package merge
