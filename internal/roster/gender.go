package roster

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Gender is stored as a small integer: 0 male, 1 female, 2 other.
type Gender int16

const (
	Male   Gender = 0
	Female Gender = 1
	Other  Gender = 2
)

// ParseGender accepts male|m|0, female|f|1 and other|2, case-insensitively.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m", "0":
		return Male, nil
	case "female", "f", "1":
		return Female, nil
	case "other", "2":
		return Other, nil
	}
	return 0, fmt.Errorf("invalid gender %q", s)
}

// Valid reports whether g is one of the three stored values.
func (g Gender) Valid() bool {
	return g >= Male && g <= Other
}

func (g Gender) String() string {
	switch g {
	case Male:
		return "male"
	case Female:
		return "female"
	case Other:
		return "other"
	}
	return fmt.Sprintf("Gender(%d)", int16(g))
}

func (g Gender) MarshalJSON() ([]byte, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("invalid gender %d", int16(g))
	}
	return json.Marshal(g.String())
}

func (g *Gender) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int16
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("gender must be a string or 0-2")
		}
		s = fmt.Sprint(n)
	}
	parsed, err := ParseGender(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
