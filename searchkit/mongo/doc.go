// Package mongo implements a primary backend.Backend on MongoDB text search.
//
// Connect ensures a text index on the document body. Queries match any term
// and are ranked by textScore; relevance order is always descending.
package mongo
