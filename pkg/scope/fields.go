package scope

import (
	"context"
	"sort"
	"strings"

	"github.com/meridianerp/meridian/pkg/apperrors"
	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/rbac"
)

// FieldFilter applies field-level grants to serialized resources:
// unreadable fields are dropped from output, unwritable fields reject the
// payload naming the offending fields. The grant map is resolved once per
// request, not once per field.
type FieldFilter struct {
	authorizer *rbac.Authorizer
}

// NewFieldFilter creates a field filter
func NewFieldFilter(authorizer *rbac.Authorizer) *FieldFilter {
	return &FieldFilter{authorizer: authorizer}
}

// FilterReadable returns a copy of the record with unreadable fields
// removed. Fields listed in always bypass grants (identifiers and
// timestamps). Callers check the model-level view permission before
// serializing; this only applies the per-field layer.
func (f *FieldFilter) FilterReadable(ctx context.Context, user *auth.User, resourceType string, record map[string]interface{}, always []string) (map[string]interface{}, error) {
	if user != nil && user.IsSuperuser {
		return record, nil
	}

	grants, err := f.authorizer.FieldGrants(ctx, user, resourceType)
	if err != nil {
		return nil, err
	}

	alwaysSet := make(map[string]struct{}, len(always))
	for _, field := range always {
		alwaysSet[field] = struct{}{}
	}

	filtered := make(map[string]interface{}, len(record))
	for field, value := range record {
		if _, ok := alwaysSet[field]; ok {
			filtered[field] = value
			continue
		}
		if grants[field].CanRead {
			filtered[field] = value
		}
	}
	return filtered, nil
}

// CheckWritable validates an input payload against the caller's field
// grants for a create or update. A payload touching any ungranted field is
// rejected with a validation error naming every offending field.
func (f *FieldFilter) CheckWritable(ctx context.Context, user *auth.User, action rbac.FieldAction, resourceType string, fields []string, always []string) error {
	if user != nil && user.IsSuperuser {
		return nil
	}

	grants, err := f.authorizer.FieldGrants(ctx, user, resourceType)
	if err != nil {
		return err
	}

	alwaysSet := make(map[string]struct{}, len(always))
	for _, field := range always {
		alwaysSet[field] = struct{}{}
	}

	var denied []string
	for _, field := range fields {
		if _, ok := alwaysSet[field]; ok {
			continue
		}
		flags := grants[field]
		allowed := false
		switch action {
		case rbac.FieldCreate:
			allowed = flags.CanCreate
		case rbac.FieldUpdate:
			allowed = flags.CanUpdate
		}
		if !allowed {
			denied = append(denied, field)
		}
	}

	if len(denied) > 0 {
		sort.Strings(denied)
		return apperrors.NewValidation(strings.Join(denied, ", "), "you do not have permission to %s these fields", action)
	}
	return nil
}
