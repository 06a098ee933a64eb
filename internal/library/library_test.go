package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const validDoc = `
datasheets:
  - id: intercessor_squad
    name: Intercessor Squad
    keywords: [INFANTRY, IMPERIUM]
    move: 6
    toughness: 4
    save: 3
    models:
      - count: 5
        wounds: 2
        base_mm: 32
    weapons: [bolt_rifle]
  - id: captain
    name: Captain
    abilities: [EPIC_CHALLENGE]
    move: 6
    toughness: 4
    save: 3
    invuln: 4
    models:
      - count: 1
        wounds: 5
        base_mm: 40
    weapons: [power_sword]
weapons:
  - id: bolt_rifle
    name: Bolt Rifle
    ranged: true
    range: 24
    attacks: "2"
    skill: 3
    strength: 4
    ap: 1
    damage: "1"
  - id: power_sword
    name: Power Sword
    attacks: "4"
    skill: 2
    strength: 5
    ap: 2
    damage: "2"
    keywords: [PRECISION]
`

func TestLoadBytesIndexesDocument(t *testing.T) {
	lib := New(zaptest.NewLogger(t))
	require.NoError(t, lib.LoadBytes([]byte(validDoc)))

	ds, err := lib.Datasheet("captain")
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Invuln)
	assert.Equal(t, []string{"EPIC_CHALLENGE"}, ds.Abilities)
	require.Len(t, ds.Models, 1)
	assert.Equal(t, 5, ds.Models[0].Wounds)

	w, err := lib.Weapon("bolt_rifle")
	require.NoError(t, err)
	assert.True(t, w.Ranged)
	assert.Equal(t, 24.0, w.Range)
	assert.Equal(t, "2", w.Attacks)

	assert.Equal(t, []string{"captain", "intercessor_squad"}, lib.DatasheetIDs())
}

func TestLookupUnknownIDs(t *testing.T) {
	lib := New(nil)
	require.NoError(t, lib.LoadBytes([]byte(validDoc)))

	_, err := lib.Weapon("plasma_gun")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown weapon")

	_, err = lib.Datasheet("nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown datasheet")
}

func TestLoadBytesRejectsDuplicates(t *testing.T) {
	lib := New(nil)
	require.NoError(t, lib.LoadBytes([]byte(validDoc)))

	err := lib.LoadBytes([]byte(`
weapons:
  - id: bolt_rifle
    name: Bolt Rifle Again
    ranged: true
    range: 24
    attacks: "2"
    skill: 3
    strength: 4
    damage: "1"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate weapon id bolt_rifle")
}

func TestLoadBytesValidation(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "datasheet without id",
			doc: `
datasheets:
  - name: Nameless
    toughness: 4
    save: 3
    models: [{count: 1, wounds: 1, base_mm: 25}]
`,
			wantErr: "has no id",
		},
		{
			name: "save out of range",
			doc: `
datasheets:
  - id: glass
    toughness: 4
    save: 8
    models: [{count: 1, wounds: 1, base_mm: 25}]
`,
			wantErr: "save must be in [2,7]",
		},
		{
			name: "invuln out of range",
			doc: `
datasheets:
  - id: warded
    toughness: 4
    save: 3
    invuln: 1
    models: [{count: 1, wounds: 1, base_mm: 25}]
`,
			wantErr: "invuln must be in [2,6]",
		},
		{
			name: "no model groups",
			doc: `
datasheets:
  - id: empty
    toughness: 4
    save: 3
`,
			wantErr: "no model groups",
		},
		{
			name: "weapon skill out of range",
			doc: `
weapons:
  - id: wild
    attacks: "1"
    skill: 7
    strength: 4
    damage: "1"
`,
			wantErr: "skill must be in [2,6]",
		},
		{
			name: "ranged weapon without range",
			doc: `
weapons:
  - id: blindfire
    ranged: true
    attacks: "1"
    skill: 3
    strength: 4
    damage: "1"
`,
			wantErr: "needs a range",
		},
		{
			name: "missing damage",
			doc: `
weapons:
  - id: blunt
    attacks: "1"
    skill: 3
    strength: 4
`,
			wantErr: "attacks and damage are required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lib := New(nil)
			err := lib.LoadBytes([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadDirSkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "units.yaml"), []byte(validDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	lib := New(zaptest.NewLogger(t))
	require.NoError(t, lib.LoadDir(dir))
	assert.Len(t, lib.DatasheetIDs(), 2)
}

func TestLoadFileReportsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weapons: {not: a list}"), 0o644))

	lib := New(nil)
	err := lib.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
