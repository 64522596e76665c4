package services

import (
	"testing"

	"hookah-loyalty-system/models"

	"github.com/stretchr/testify/require"
)

func TestCheckOrRegisterCreatesUserAndStock(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)

	user, created, err := users.CheckOrRegister(RegisterInput{
		TgID:      300,
		FirstName: "Dana",
		Phone:     "+1 555 010 9876",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, user.ID)

	var stock models.Stock
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&stock).Error)
	require.Equal(t, models.DefaultStockName, stock.StockName)
	require.Zero(t, stock.Progress)

	// Second call is an update, not a duplicate.
	again, created, err := users.CheckOrRegister(RegisterInput{
		TgID:      300,
		FirstName: "Dana",
		LastName:  "Updated",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, user.ID, again.ID)
	require.Equal(t, "Updated", again.LastName)
	require.Equal(t, "+1 555 010 9876", again.Phone) // empty input keeps old value
}

func TestFindByPhoneDigits(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)

	target := createTestUser(t, db, 301) // phone ends in 1234
	other := &models.User{ID: "u-other", TgID: 302, FirstName: "Other", Phone: "+7 (900) 555-66-77"}
	require.NoError(t, db.Create(other).Error)

	found, err := users.FindByPhoneDigits("1234")
	require.NoError(t, err)
	require.Equal(t, target.ID, found.ID)

	_, err = users.FindByPhoneDigits("0000")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = users.FindByPhoneDigits("12a4")
	require.Error(t, err)
	_, err = users.FindByPhoneDigits("123")
	require.Error(t, err)
}

func TestGetProfileCounts(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)
	user := createTestUser(t, db, 303)

	for i := 0; i < 6; i++ {
		_, err := ledger.RecordRegularEvent(user.ID, nil, models.ScanMethodQR)
		require.NoError(t, err)
	}

	profile, err := users.GetProfile(user.TgID)
	require.NoError(t, err)
	require.Equal(t, 20, profile.Stock.Progress)
	require.EqualValues(t, 1, profile.UnusedCredits)
	require.EqualValues(t, 6, profile.TotalRegular)
	require.EqualValues(t, 0, profile.TotalFree)

	_, err = ledger.RedeemFreeCredit(user.ID, nil, models.ScanMethodUserClaimed)
	require.NoError(t, err)

	profile, err = users.GetProfile(user.TgID)
	require.NoError(t, err)
	require.EqualValues(t, 0, profile.UnusedCredits)
	require.EqualValues(t, 1, profile.TotalFree)
}

func TestGetHistoryPagination(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)
	user := createTestUser(t, db, 304)

	for i := 0; i < 7; i++ {
		_, err := ledger.RecordRegularEvent(user.ID, nil, models.ScanMethodQR)
		require.NoError(t, err)
	}

	page1, total, err := users.GetHistory(user.TgID, 3, 0)
	require.NoError(t, err)
	require.EqualValues(t, 7, total)
	require.Len(t, page1, 3)
	// Newest first
	require.Greater(t, page1[0].ID, page1[1].ID)

	page3, _, err := users.GetHistory(user.TgID, 3, 6)
	require.NoError(t, err)
	require.Len(t, page3, 1)
}

func TestGrantAdminIdempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)
	user := createTestUser(t, db, 305)

	granted, err := users.GrantAdmin(user.TgID)
	require.NoError(t, err)
	require.True(t, granted.IsAdmin)

	granted, err = users.GrantAdmin(user.TgID)
	require.NoError(t, err)
	require.True(t, granted.IsAdmin)

	_, err = users.GrantAdmin(999999)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestIsAdminEnvBootstrap(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerService(db)
	users := NewUserService(db, ledger)
	user := createTestUser(t, db, 306)

	require.False(t, users.IsAdmin(user, nil))
	require.True(t, users.IsAdmin(user, []int64{306}))

	user.IsAdmin = true
	require.True(t, users.IsAdmin(user, nil))
}
