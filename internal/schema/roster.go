// Package schema describes the roster CSV layout: which columns exist, which
// are required, and how each cell is typed.
package schema

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldGender
	FieldBool
	FieldTermRef
)

func (t FieldType) String() string {
	switch t {
	case FieldGender:
		return "gender"
	case FieldBool:
		return "bool"
	case FieldTermRef:
		return "term"
	default:
		return "text"
	}
}

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name       string    // Column header, matched case-insensitively
	Type       FieldType // Expected data type
	Required   bool      // Column must exist in the CSV header
	AllowEmpty bool      // Empty values are allowed even when Required
	EnumValues []string  // Accepted spellings checked by the validator
}

// Column names consumed from a roster file.
const (
	ColStudentID  = "student_id"
	ColFirstName  = "first_name"
	ColMiddleName = "middle_name"
	ColLastName   = "last_name"
	ColGender     = "gender"
	ColCourse     = "course"
	ColDepartment = "department"
	ColPosition   = "position"
	ColMajor      = "major"
	ColYearLevel  = "year_level"
	ColIsActive   = "is_active"
	ColTerm       = "last_updated_semester_id"
)

// RosterFieldSpecs lists the roster columns in template order.
// middle_name must be present as a column but may be blank.
var RosterFieldSpecs = []FieldSpec{
	{Name: ColStudentID, Type: FieldText, Required: true},
	{Name: ColFirstName, Type: FieldText, Required: true},
	{Name: ColMiddleName, Type: FieldText, Required: true, AllowEmpty: true},
	{Name: ColLastName, Type: FieldText, Required: true},
	{Name: ColGender, Type: FieldGender, AllowEmpty: true, EnumValues: []string{"male", "female", "other", "0", "1", "2"}},
	{Name: ColCourse, Type: FieldText, AllowEmpty: true},
	{Name: ColDepartment, Type: FieldText, AllowEmpty: true},
	{Name: ColPosition, Type: FieldText, AllowEmpty: true},
	{Name: ColMajor, Type: FieldText, AllowEmpty: true},
	{Name: ColYearLevel, Type: FieldText, AllowEmpty: true},
	{Name: ColIsActive, Type: FieldBool, AllowEmpty: true, EnumValues: []string{"0", "1", "true", "false"}},
	{Name: ColTerm, Type: FieldTermRef, AllowEmpty: true},
}

// RequiredHeaders returns the columns every roster header must contain.
func RequiredHeaders() []string {
	var out []string
	for _, spec := range RosterFieldSpecs {
		if spec.Required {
			out = append(out, spec.Name)
		}
	}
	return out
}

// Columns returns all roster column names in template order.
func Columns() []string {
	out := make([]string, len(RosterFieldSpecs))
	for i, spec := range RosterFieldSpecs {
		out[i] = spec.Name
	}
	return out
}

// Spec looks up a column by name.
func Spec(name string) (FieldSpec, bool) {
	for _, spec := range RosterFieldSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return FieldSpec{}, false
}
