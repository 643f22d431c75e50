package access

import (
	"sort"
)

// RequestContext is the normalised view of a request that conditions are
// evaluated against.
type RequestContext struct {
	UserID             string
	UserRole           string
	UserCompany        string
	UserDepartment     string
	DocumentID         string
	DocumentOwner      string
	DocumentCompany    string
	DocumentDepartment string
	DocumentVisibility string
	DocumentTags       []string
	Note               string
}

// fieldValue is a context attribute: a scalar or, for tags, a list.
type fieldValue struct {
	scalar string
	list   []string
	isList bool
}

func (v fieldValue) values() []string {
	if v.isList {
		return v.list
	}
	return []string{v.scalar}
}

func (v fieldValue) empty() bool {
	if v.isList {
		return len(v.list) == 0
	}
	return v.scalar == ""
}

var contextFields = map[string]func(RequestContext) fieldValue{
	"user_id":             func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.UserID} },
	"user_role":           func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.UserRole} },
	"user_company":        func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.UserCompany} },
	"user_department":     func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.UserDepartment} },
	"document_id":         func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.DocumentID} },
	"document_owner":      func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.DocumentOwner} },
	"document_company":    func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.DocumentCompany} },
	"document_department": func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.DocumentDepartment} },
	"document_visibility": func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.DocumentVisibility} },
	"document_tags":       func(rc RequestContext) fieldValue { return fieldValue{list: rc.DocumentTags, isList: true} },
	"note":                func(rc RequestContext) fieldValue { return fieldValue{scalar: rc.Note} },
}

// Field returns the named attribute of rc.
func (rc RequestContext) field(name string) (fieldValue, bool) {
	get, ok := contextFields[name]
	if !ok {
		return fieldValue{}, false
	}
	return get(rc), true
}

// FieldNames lists the attributes conditions may reference.
func FieldNames() []string {
	names := make([]string, 0, len(contextFields))
	for n := range contextFields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
