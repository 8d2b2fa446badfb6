package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azkastekom/massweb/internal/models"
)

func TestContentService_SaveKeepsPublishedAtConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	item := f.seedContents(t, p.ID, 1)[0]

	item.PublishStatus = models.PublishStatusPublished
	require.NoError(t, f.contents.Save(ctx, &item))
	require.NotNil(t, item.PublishedAt)

	item.PublishStatus = models.PublishStatusFailed
	require.NoError(t, f.contents.Save(ctx, &item))
	assert.Nil(t, item.PublishedAt)

	item.PublishStatus = "archived"
	assert.True(t, errors.Is(f.contents.Save(ctx, &item), ErrInvalidArgument))
}

func TestContentService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	item := f.seedContents(t, p.ID, 1)[0]

	published := models.PublishStatusPublished
	updated, err := f.contents.Update(ctx, item.ID, ContentUpdate{
		Title:           strPtr("  New title "),
		MetaDescription: strPtr(""),
		Tags:            strPtr("a, b, a"),
		PublishStatus:   &published,
	})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Nil(t, updated.MetaDescription)
	assert.Equal(t, []string{"a", "b"}, []string(updated.Tags))
	assert.NotNil(t, updated.PublishedAt)
	assert.Equal(t, "body 1", updated.Content)

	_, err = f.contents.Update(ctx, 999, ContentUpdate{})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestContentService_FindAndCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	other := f.createProject(t, TemplateSet{Content: "x"})
	items := f.seedContents(t, p.ID, 25)
	f.seedContents(t, other.ID, 3)

	_, err := f.contents.MarkPublished(ctx, items[0].ID, time.Now().UTC())
	require.NoError(t, err)

	page, total, err := f.contents.FindAndCount(ctx, ContentFilter{ProjectID: p.ID}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
	require.Len(t, page, 10)
	assert.Equal(t, items[10].ID, page[0].ID)

	page, total, err = f.contents.FindAndCount(ctx, ContentFilter{ProjectID: p.ID, Status: models.PublishStatusPublished}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, items[0].ID, page[0].ID)

	_, total, err = f.contents.FindAndCount(ctx, ContentFilter{ProjectID: p.ID, Search: "item 2"}, 1, 50)
	require.NoError(t, err)
	// Item 2, Item 20..25
	assert.Equal(t, int64(7), total)
}

func TestContentService_MarkPublishedOnlyFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	item := f.seedContents(t, p.ID, 1)[0]

	ok, err := f.contents.MarkPublished(ctx, item.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.contents.MarkPublished(ctx, item.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContentService_UnpublishScopesByOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.projects.Create(ctx, 1, "mine", TemplateSet{Content: "x"})
	require.NoError(t, err)
	theirs, err := f.projects.Create(ctx, 2, "theirs", TemplateSet{Content: "x"})
	require.NoError(t, err)

	a := f.seedContents(t, mine.ID, 1)[0]
	b := f.seedContents(t, theirs.ID, 1)[0]
	for _, id := range []uint{a.ID, b.ID} {
		_, err := f.contents.MarkPublished(ctx, id, time.Now().UTC())
		require.NoError(t, err)
	}

	n, err := f.contents.Unpublish(ctx, 1, []uint{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.contents.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PublishStatusPublished, got.PublishStatus)

	n, err = f.contents.Unpublish(ctx, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
