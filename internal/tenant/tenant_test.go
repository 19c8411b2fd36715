package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticPrefs string

func (s staticPrefs) Preferred() string { return string(s) }

func TestResolvePrecedence(t *testing.T) {
	session := WithSession(context.Background(), "acme-session")

	tests := []struct {
		name     string
		ctx      context.Context
		explicit string
		prefs    PreferenceStore
		want     Context
	}{
		{
			name:     "explicit wins",
			ctx:      session,
			explicit: "acme",
			prefs:    staticPrefs("pref"),
			want:     Context{ID: "acme", Source: SourceExplicit},
		},
		{
			name:  "session over preference",
			ctx:   session,
			prefs: staticPrefs("pref"),
			want:  Context{ID: "acme-session", Source: SourceSession},
		},
		{
			name:  "preference last",
			ctx:   context.Background(),
			prefs: staticPrefs("pref"),
			want:  Context{ID: "pref", Source: SourcePreference},
		},
		{
			name:     "blank explicit ignored",
			ctx:      context.Background(),
			explicit: "   ",
			prefs:    staticPrefs(" pref "),
			want:     Context{ID: "pref", Source: SourcePreference},
		},
		{
			name: "nothing resolvable",
			ctx:  context.Background(),
			want: Context{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewResolver(tt.prefs).Resolve(tt.ctx, tt.explicit)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.ID != "", got.Valid())
		})
	}
}

func TestResolveNilResolver(t *testing.T) {
	var r *Resolver
	got := r.Resolve(context.Background(), "")
	assert.False(t, got.Valid())
	assert.Equal(t, SourceNone, got.Source)
}

func TestSourceText(t *testing.T) {
	b, err := SourceSession.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "session", string(b))
	assert.Equal(t, "none", Source(42).String())
}
