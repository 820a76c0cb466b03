// Package scope is the enforcement layer every organization-scoped
// resource routes through: list queries narrow to the caller's
// organizations, creates pin to a validated target organization, updates
// and deletes honor the stored organization over anything the client
// claims, and serialization applies field-level grants in both
// directions.
package scope
