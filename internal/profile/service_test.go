package profile

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashpilot/internal/migrations"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/repository/sqlite"
	_ "modernc.org/sqlite"
)

const sampleProfile = `
mixed-port: 7890
mode: rule
proxies:
  - {name: HK-01, type: ss, server: hk.example.com, port: 443, cipher: aes-128-gcm, password: x}
proxy-groups:
  - name: Proxy
    type: select
    proxies: [Auto, HK-01]
  - name: Auto
    type: url-test
    proxies: [HK-01]
`

func newTestService(t *testing.T) (*Service, *sqlite.Store, string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Up(db))
	store := sqlite.NewStore(db)

	dir := filepath.Join(t.TempDir(), "profiles")
	svc := NewService(store.Profiles(), Options{Dir: dir, Now: func() time.Time { return time.Unix(1_700_000_000, 0) }})
	return svc, store, dir
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInspect(t *testing.T) {
	summary, err := Inspect([]byte(sampleProfile))
	require.NoError(t, err)
	assert.Equal(t, []string{"Proxy", "Auto"}, summary.ProxyGroups)
	assert.Equal(t, 1, summary.Proxies)
	assert.Equal(t, "rule", summary.Mode)
	assert.Equal(t, 7890, summary.MixedPort)
}

func TestInspectRejectsUnusableFiles(t *testing.T) {
	_, err := Inspect([]byte("mode: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = Inspect([]byte("mode: rule\n"))
	assert.ErrorIs(t, err, ErrInvalidProfile)

	_, err = Inspect([]byte("proxy-groups:\n  - type: select\n"))
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestAddCopiesIntoProfileDir(t *testing.T) {
	svc, _, dir := newTestService(t)
	src := writeSource(t, sampleProfile)

	p, summary, err := svc.Add(context.Background(), " home ", src)
	require.NoError(t, err)
	assert.Equal(t, "home", p.Name)
	assert.Equal(t, src, p.Source)
	assert.Len(t, summary.ProxyGroups, 2)
	assert.True(t, filepath.IsAbs(p.Path))
	assert.Equal(t, filepath.Join(dir, p.ID+".yaml"), p.Path)

	data, err := os.ReadFile(p.Path)
	require.NoError(t, err)
	assert.Equal(t, sampleProfile, string(data))
}

func TestAddRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Add(ctx, "", writeSource(t, sampleProfile))
	assert.ErrorIs(t, err, ErrNameRequired)

	_, _, err = svc.Add(ctx, "broken", writeSource(t, "mode: rule\n"))
	assert.ErrorIs(t, err, ErrInvalidProfile)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestActivateAndResolve(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a, _, err := svc.Add(ctx, "a", writeSource(t, sampleProfile))
	require.NoError(t, err)
	b, _, err := svc.Add(ctx, "b", writeSource(t, sampleProfile))
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.Activate(ctx, a.ID)
	require.NoError(t, err)
	active, err := svc.Activate(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, active.Active)

	resolved, err := svc.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, resolved.ID)

	first, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, first.Active)

	_, err = svc.Activate(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRemoveDeletesRecordsAndFile(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	p, _, err := svc.Add(ctx, "home", writeSource(t, sampleProfile))
	require.NoError(t, err)
	require.NoError(t, store.Selections().Set(ctx, &repository.Selection{ProfileID: p.ID, GroupName: "Proxy", ProxyName: "HK-01"}))
	require.NoError(t, store.Pins().Set(ctx, &repository.Pin{ProfileID: p.ID, GroupName: "Auto", ProxyName: "HK-01"}))

	require.NoError(t, svc.Remove(ctx, p.ID))

	_, err = os.Stat(p.Path)
	assert.True(t, os.IsNotExist(err))
	selections, err := store.Selections().All(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, selections)
	pins, err := store.Pins().All(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, pins)

	assert.ErrorIs(t, svc.Remove(ctx, p.ID), repository.ErrNotFound)
}
