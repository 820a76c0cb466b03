// Package migrate holds the versioned database schema and the startup
// seeding of the built-in permission catalogue.
package migrate
