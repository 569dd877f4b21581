// Package types defines the media index entities, configuration, standard
// errors, and collaborator interfaces shared by the store, backup, and
// durable-counter packages.
package types
