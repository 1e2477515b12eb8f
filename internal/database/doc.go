// Package database provides PostgreSQL connectivity and repositories.
//
// Uses pgx for connection pooling and tern for migrations.
// Repositories implement domain interfaces: ProfileRepository, CatalogRepository.
package database
