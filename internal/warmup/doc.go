// Package warmup defines the core types and collaborator contracts shared by the
// resource collection pipeline, the persistence worker, and the storage backends.
package warmup
