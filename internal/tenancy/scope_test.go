package tenancy

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type note struct {
	ID       uint
	TenantID uint
	Body     string
}

func (n *note) GetTenantID() uint         { return n.TenantID }
func (n *note) SetTenantID(tenantID uint) { n.TenantID = tenantID }

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&note{}))
	return db
}

func TestScope_ApplyFiltersByTenant(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Create(&[]note{
		{TenantID: 1, Body: "a"},
		{TenantID: 1, Body: "b"},
		{TenantID: 2, Body: "c"},
	}).Error)

	q, err := For(1).Apply(db.Model(&note{}))
	require.NoError(t, err)
	var notes []note
	require.NoError(t, q.Find(&notes).Error)
	require.Len(t, notes, 2)

	q, err = IgnoreFilter().Apply(db.Model(&note{}))
	require.NoError(t, err)
	var all []note
	require.NoError(t, q.Find(&all).Error)
	require.Len(t, all, 3)
}

func TestScope_UnresolvedTenantFails(t *testing.T) {
	db := openTestDB(t)

	_, err := For(0).Apply(db)
	require.ErrorIs(t, err, ErrTenantResolution)

	_, err = Scope{}.RequireTenant()
	require.ErrorIs(t, err, ErrTenantResolution)

	_, err = IgnoreFilter().RequireTenant()
	require.ErrorIs(t, err, ErrTenantResolution)
}

func TestScope_Stamp(t *testing.T) {
	n := &note{}
	require.NoError(t, For(4).Stamp(n))
	require.Equal(t, uint(4), n.TenantID)

	foreign := &note{TenantID: 9}
	require.ErrorIs(t, For(4).Stamp(foreign), ErrCrossTenant)

	require.ErrorIs(t, IgnoreFilter().Stamp(&note{}), ErrTenantResolution)
	require.NoError(t, IgnoreFilter().Stamp(&note{TenantID: 2}))
}

func TestScope_Owns(t *testing.T) {
	require.True(t, For(1).Owns(&note{TenantID: 1}))
	require.False(t, For(1).Owns(&note{TenantID: 2}))
	require.True(t, IgnoreFilter().Owns(&note{TenantID: 2}))
}
