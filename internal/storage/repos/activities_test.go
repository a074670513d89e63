package repos

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusdesk/internal/model"
)

func TestListDueActivitiesSkipsCompletedAndOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	user := createTestAccount(t, ctx, store, "ana", model.RoleStudent)

	due := createTestActivity(t, ctx, store, user.ID, "2030-05-02", "10:00")
	done := createTestActivity(t, ctx, store, user.ID, "2030-05-02", "11:00")
	_ = createTestActivity(t, ctx, store, user.ID, "2030-05-04", "10:00")
	_, err := store.SetActivityCompleted(ctx, done.ID, user.ID, true)
	require.NoError(t, err)

	got, err := store.ListDueActivities(ctx, "2030-05-02", "2030-05-03")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestListActivitiesFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	user := createTestAccount(t, ctx, store, "ana", model.RoleStudent)

	late := createTestActivity(t, ctx, store, user.ID, "2030-05-02", "18:00")
	early := createTestActivity(t, ctx, store, user.ID, "2030-05-02", "08:00")
	_, err := store.CreateActivity(ctx, CreateActivityInput{UserID: user.ID, Title: "Clase", Date: "2030-05-01", Time: "09:00", Type: model.ActivityTypeClass})
	require.NoError(t, err)

	exams, err := store.ListActivities(ctx, user.ID, ActivityFilters{Type: "exam", StartDate: "2030-05-02"})
	require.NoError(t, err)
	require.Len(t, exams, 2)
	assert.Equal(t, early.ID, exams[0].ID)
	assert.Equal(t, late.ID, exams[1].ID)
}

func TestActivityOwnerScoping(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	owner := createTestAccount(t, ctx, store, "ana", model.RoleStudent)
	other := createTestAccount(t, ctx, store, "luis", model.RoleStudent)
	act := createTestActivity(t, ctx, store, owner.ID, "2030-05-02", "10:00")

	_, err := store.GetActivity(ctx, act.ID, other.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, store.DeleteActivity(ctx, act.ID, other.ID), sql.ErrNoRows)

	title := "Examen final"
	updated, err := store.UpdateActivity(ctx, act.ID, owner.ID, ActivityPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Examen final", updated.Title)

	completed, err := store.SetActivityCompleted(ctx, act.ID, owner.ID, true)
	require.NoError(t, err)
	assert.True(t, completed.IsCompleted)
	assert.NotNil(t, completed.CompletedAt)

	reopened, err := store.SetActivityCompleted(ctx, act.ID, owner.ID, false)
	require.NoError(t, err)
	assert.False(t, reopened.IsCompleted)
	assert.Nil(t, reopened.CompletedAt)
}
