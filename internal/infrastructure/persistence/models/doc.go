// Package models contains the GORM persistence models backing the
// integration-config store.
//
// Models are kept separate from domain types so that schema concerns
// (composite keys, jsonb columns, indexes) never leak into the domain
// layer. Each model carries ToDomain/FromDomain converters; repositories
// are the only callers.
package models
