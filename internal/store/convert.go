package store

import (
	"time"

	"github.com/JonMunkholm/roster/internal/database"
	"github.com/JonMunkholm/roster/internal/roster"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

func pgText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func pgUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func pgGender(g *roster.Gender) pgtype.Int2 {
	if g == nil {
		return pgtype.Int2{}
	}
	return pgtype.Int2{Int16: int16(*g), Valid: true}
}

func pgBool(b *bool) pgtype.Bool {
	if b == nil {
		return pgtype.Bool{}
	}
	return pgtype.Bool{Bool: *b, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func genderPtr(i pgtype.Int2) *roster.Gender {
	if !i.Valid {
		return nil
	}
	g := roster.Gender(i.Int16)
	return &g
}

func toAccount(a database.Account) roster.Account {
	return roster.Account{
		ID:           uuid.UUID(a.ID.Bytes),
		SchoolID:     a.SchoolID,
		FirstName:    textPtr(a.FirstName),
		MiddleName:   textPtr(a.MiddleName),
		LastName:     textPtr(a.LastName),
		Gender:       genderPtr(a.Gender),
		Course:       textPtr(a.Course),
		Department:   textPtr(a.Department),
		Position:     textPtr(a.Position),
		Major:        textPtr(a.Major),
		YearLevel:    textPtr(a.YearLevel),
		IsActive:     a.IsActive,
		LastSeenTerm: uuidPtr(a.LastSeenTerm),
	}
}

func toAccounts(rows []database.Account) []roster.Account {
	out := make([]roster.Account, len(rows))
	for i, r := range rows {
		out[i] = toAccount(r)
	}
	return out
}

// Term timestamps are stored as RFC 3339 text.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toTerm(t database.Term) roster.Term {
	return roster.Term{
		ID:        uuid.UUID(t.ID.Bytes),
		Label:     t.Label,
		IsActive:  t.IsActive,
		CreatedAt: parseTime(t.CreatedAt),
		UpdatedAt: parseTime(t.UpdatedAt),
	}
}
