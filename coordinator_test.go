package client

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

// scripted gateway. nil fields answer success with zero values
type testPostsGateway struct {
	fetchFeed      func(ctx context.Context) ([]*Post, error)
	fetchExplore   func(ctx context.Context) ([]*Post, error)
	fetchUserPosts func(ctx context.Context, userId string) ([]*Post, error)
	fetchBookmarks func(ctx context.Context, userId string) ([]*Post, error)
	toggleLike     func(ctx context.Context, postId string) error
	toggleBookmark func(ctx context.Context, postId string) error
	addComment     func(ctx context.Context, postId string, content string) (*Comment, error)
	deletePost     func(ctx context.Context, postId string) error
	createPost     func(ctx context.Context, content string, image *ImageUpload) (*Post, error)
}

func (self *testPostsGateway) FetchFeedSync(ctx context.Context) ([]*Post, error) {
	if self.fetchFeed != nil {
		return self.fetchFeed(ctx)
	}
	return []*Post{}, nil
}

func (self *testPostsGateway) FetchExploreSync(ctx context.Context) ([]*Post, error) {
	if self.fetchExplore != nil {
		return self.fetchExplore(ctx)
	}
	return []*Post{}, nil
}

func (self *testPostsGateway) FetchUserPostsSync(ctx context.Context, userId string) ([]*Post, error) {
	if self.fetchUserPosts != nil {
		return self.fetchUserPosts(ctx, userId)
	}
	return []*Post{}, nil
}

func (self *testPostsGateway) FetchBookmarksSync(ctx context.Context, userId string) ([]*Post, error) {
	if self.fetchBookmarks != nil {
		return self.fetchBookmarks(ctx, userId)
	}
	return []*Post{}, nil
}

func (self *testPostsGateway) ToggleLikeSync(ctx context.Context, postId string) error {
	if self.toggleLike != nil {
		return self.toggleLike(ctx, postId)
	}
	return nil
}

func (self *testPostsGateway) ToggleBookmarkSync(ctx context.Context, postId string) error {
	if self.toggleBookmark != nil {
		return self.toggleBookmark(ctx, postId)
	}
	return nil
}

func (self *testPostsGateway) AddCommentSync(ctx context.Context, postId string, content string) (*Comment, error) {
	if self.addComment != nil {
		return self.addComment(ctx, postId, content)
	}
	return &Comment{}, nil
}

func (self *testPostsGateway) DeletePostSync(ctx context.Context, postId string) error {
	if self.deletePost != nil {
		return self.deletePost(ctx, postId)
	}
	return nil
}

func (self *testPostsGateway) CreatePostSync(ctx context.Context, content string, image *ImageUpload) (*Post, error) {
	if self.createPost != nil {
		return self.createPost(ctx, content, image)
	}
	return &Post{}, nil
}

func feedGateway(posts ...*Post) *testPostsGateway {
	return &testPostsGateway{
		fetchFeed: func(ctx context.Context) ([]*Post, error) {
			return posts, nil
		},
	}
}

func TestFetchFeedPopulatesViews(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"), testPost("p2", "u2", "u9"))
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	err := coordinator.FetchFeed()
	assert.Equal(t, err, nil)

	feed := coordinator.FeedPosts()
	assert.Equal(t, len(feed), 2)
	assert.Equal(t, feed[0].PostId, "p1")
	assert.Equal(t, feed[1].PostId, "p2")
	assert.Equal(t, feed[1].Likes, []string{"u9"})
}

func TestFetchFailureKeepsLastKnownView(t *testing.T) {
	ctx := context.Background()
	failing := false
	gateway := &testPostsGateway{
		fetchFeed: func(ctx context.Context) ([]*Post, error) {
			if failing {
				return nil, &ApiError{StatusCode: 500, Message: "unavailable"}
			}
			return []*Post{testPost("p1", "u1")}, nil
		},
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	assert.Equal(t, coordinator.FetchFeed(), nil)
	assert.Equal(t, len(coordinator.FeedPosts()), 1)

	// a transient failure surfaces the error and leaves the view
	// stale but consistent. never flash an empty view
	failing = true
	err := coordinator.FetchFeed()
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(coordinator.FeedPosts()), 1)
}

func TestToggleLikeOptimisticThenConfirmed(t *testing.T) {
	ctx := context.Background()
	called := false
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.toggleLike = func(ctx context.Context, postId string) error {
		called = true
		// the optimistic change is already visible before the call
		return nil
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u7")
	defer coordinator.Close()
	coordinator.FetchFeed()

	err := coordinator.ToggleLike("p1")
	assert.Equal(t, err, nil)
	assert.Equal(t, called, true)

	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{"u7"})
}

func TestToggleLikeRollback(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"), testPost("p2", "u2", "u9"))

	applied := make(chan struct{})
	release := make(chan error)
	gateway.toggleLike = func(ctx context.Context, postId string) error {
		close(applied)
		return <-release
	}

	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	done := make(chan error)
	go func() {
		done <- coordinator.ToggleLike("p1")
	}()

	// the local change is visible while the request is in flight
	<-applied
	feed := coordinator.FeedPosts()
	assert.Equal(t, feed[0].Likes, []string{"u1"})
	assert.Equal(t, feed[1].Likes, []string{"u9"})

	// failure restores the captured prior state exactly
	release <- &ApiError{StatusCode: 500, Message: "unavailable"}
	err := <-done
	assert.NotEqual(t, err, nil)

	feed = coordinator.FeedPosts()
	assert.Equal(t, feed[0].Likes, []string{})
	assert.Equal(t, feed[1].Likes, []string{"u9"})
}

func TestToggleLikeDoubleToggle(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))

	calls := make(chan chan error, 2)
	gateway.toggleLike = func(ctx context.Context, postId string) error {
		release := make(chan error)
		calls <- release
		return <-release
	}

	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	done1 := make(chan error)
	go func() {
		done1 <- coordinator.ToggleLike("p1")
	}()
	release1 := <-calls

	done2 := make(chan error)
	go func() {
		done2 <- coordinator.ToggleLike("p1")
	}()
	release2 := <-calls

	// both applied optimistically in sequence: like then unlike
	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{})

	// the first call fails and rolls back its own flip.
	// the second call's outcome wins
	release1 <- &ApiError{StatusCode: 500, Message: "unavailable"}
	assert.NotEqual(t, <-done1, nil)

	p1, _ = coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{"u1"})

	release2 <- nil
	assert.Equal(t, <-done2, nil)

	p1, _ = coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{"u1"})
}

func TestToggleLikeBothFailUnwind(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1", "u9"))

	calls := make(chan chan error, 2)
	gateway.toggleLike = func(ctx context.Context, postId string) error {
		release := make(chan error)
		calls <- release
		return <-release
	}

	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	done1 := make(chan error)
	go func() {
		done1 <- coordinator.ToggleLike("p1")
	}()
	release1 := <-calls

	done2 := make(chan error)
	go func() {
		done2 <- coordinator.ToggleLike("p1")
	}()
	release2 := <-calls

	// unwind in reverse order of application
	release2 <- &ApiError{StatusCode: 500, Message: "unavailable"}
	assert.NotEqual(t, <-done2, nil)
	release1 <- &ApiError{StatusCode: 500, Message: "unavailable"}
	assert.NotEqual(t, <-done1, nil)

	// back to the original state, no stray entries
	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{"u9"})
}

func TestToggleLikeNotCached(t *testing.T) {
	ctx := context.Background()
	coordinator := NewPostsCoordinatorWithDefaults(ctx, &testPostsGateway{}, "u1")
	defer coordinator.Close()

	err := coordinator.ToggleLike("missing")
	assert.Equal(t, err, ErrNotCached)
}

func TestToggleLikeTimeoutRollsBack(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.toggleLike = func(ctx context.Context, postId string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	settings := DefaultPostsCoordinatorSettings()
	settings.MutationTimeout = 20 * time.Millisecond
	coordinator := NewPostsCoordinator(ctx, gateway, "u1", settings)
	defer coordinator.Close()
	coordinator.FetchFeed()

	err := coordinator.ToggleLike("p1")
	assert.NotEqual(t, err, nil)

	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, p1.Likes, []string{})
}

func TestToggleBookmarkOptimistic(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"), testPost("p2", "u2"))
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	assert.Equal(t, coordinator.ToggleBookmark("p2"), nil)
	assert.Equal(t, coordinator.ToggleBookmark("p1"), nil)

	bookmarks := coordinator.BookmarkedPosts()
	assert.Equal(t, len(bookmarks), 2)
	assert.Equal(t, bookmarks[0].PostId, "p1")
	assert.Equal(t, bookmarks[1].PostId, "p2")

	// toggle off
	assert.Equal(t, coordinator.ToggleBookmark("p1"), nil)
	bookmarks = coordinator.BookmarkedPosts()
	assert.Equal(t, len(bookmarks), 1)
	assert.Equal(t, bookmarks[0].PostId, "p2")
}

func TestToggleBookmarkRollbackRestoresPosition(t *testing.T) {
	ctx := context.Background()
	gateway := &testPostsGateway{
		fetchBookmarks: func(ctx context.Context, userId string) ([]*Post, error) {
			return []*Post{
				testPost("p1", "u1"),
				testPost("p2", "u2"),
				testPost("p3", "u3"),
			}, nil
		},
		toggleBookmark: func(ctx context.Context, postId string) error {
			return &ApiError{StatusCode: 500, Message: "unavailable"}
		},
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchBookmarks()

	// removing the middle entry fails. it comes back where it was
	err := coordinator.ToggleBookmark("p2")
	assert.NotEqual(t, err, nil)

	bookmarks := coordinator.BookmarkedPosts()
	assert.Equal(t, len(bookmarks), 3)
	assert.Equal(t, bookmarks[1].PostId, "p2")
}

func TestToggleBookmarkAddRollback(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.toggleBookmark = func(ctx context.Context, postId string) error {
		return &ApiError{StatusCode: 500, Message: "unavailable"}
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	err := coordinator.ToggleBookmark("p1")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(coordinator.BookmarkedPosts()), 0)
}

func TestAddCommentAppends(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.addComment = func(ctx context.Context, postId string, content string) (*Comment, error) {
		return &Comment{
			CommentId: "c1",
			PostId:    postId,
			UserId:    "u1",
			Username:  "user-u1",
			Content:   content,
			CreatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		}, nil
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	comment, err := coordinator.AddComment("p1", "nice")
	assert.Equal(t, err, nil)
	assert.Equal(t, comment.CommentId, "c1")

	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, len(p1.Comments), 1)
	assert.Equal(t, p1.Comments[0].Content, "nice")
}

func TestAddCommentOrderedByServerTimestamp(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))

	t1 := time.Date(2025, 1, 2, 0, 0, 1, 0, time.UTC)
	t2 := time.Date(2025, 1, 2, 0, 0, 2, 0, time.UTC)

	// the later stamped comment resolves first
	stamps := []time.Time{t2, t1}
	commentIds := []string{"c2", "c1"}
	i := 0
	gateway.addComment = func(ctx context.Context, postId string, content string) (*Comment, error) {
		comment := &Comment{
			CommentId: commentIds[i],
			PostId:    postId,
			Content:   content,
			CreatedAt: stamps[i],
		}
		i += 1
		return comment, nil
	}

	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	_, err := coordinator.AddComment("p1", "second")
	assert.Equal(t, err, nil)
	_, err = coordinator.AddComment("p1", "first")
	assert.Equal(t, err, nil)

	// platform timestamps win over resolution order
	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, p1.Comments[0].CommentId, "c1")
	assert.Equal(t, p1.Comments[1].CommentId, "c2")
}

func TestAddCommentFailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.addComment = func(ctx context.Context, postId string, content string) (*Comment, error) {
		return nil, &ApiError{StatusCode: 500, Message: "unavailable"}
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	_, err := coordinator.AddComment("p1", "nope")
	assert.NotEqual(t, err, nil)

	p1, _ := coordinator.GetPost("p1")
	assert.Equal(t, len(p1.Comments), 0)
}

func TestDeletePostAtomic(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"), testPost("p2", "u2"))
	gateway.fetchUserPosts = func(ctx context.Context, userId string) ([]*Post, error) {
		return []*Post{testPost("p1", "u1")}, nil
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()
	coordinator.FetchUserPosts("u1")
	coordinator.ToggleBookmark("p1")

	err := coordinator.DeletePost("p1")
	assert.Equal(t, err, nil)

	_, ok := coordinator.GetPost("p1")
	assert.Equal(t, ok, false)
	for _, posts := range [][]*Post{
		coordinator.FeedPosts(),
		coordinator.UserPosts("u1"),
		coordinator.BookmarkedPosts(),
	} {
		for _, post := range posts {
			assert.NotEqual(t, post.PostId, "p1")
		}
	}
	assert.Equal(t, len(coordinator.FeedPosts()), 1)
}

func TestDeletePostFailureIsUntouched(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.deletePost = func(ctx context.Context, postId string) error {
		return &ApiError{StatusCode: 404, Message: "post not found"}
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	err := coordinator.DeletePost("p1")
	assert.NotEqual(t, err, nil)
	apiErr, ok := err.(*ApiError)
	assert.Equal(t, ok, true)
	assert.Equal(t, apiErr.IsNotFound(), true)

	_, ok = coordinator.GetPost("p1")
	assert.Equal(t, ok, true)
	assert.Equal(t, len(coordinator.FeedPosts()), 1)
}

func TestCreatePostInsertsOnSuccess(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.createPost = func(ctx context.Context, content string, image *ImageUpload) (*Post, error) {
		// ids and image urls are platform assigned
		post := testPost("p9", "u1")
		post.Content = content
		post.ImageUrl = "https://cdn.flock.social/p9.jpg"
		return post, nil
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	post, err := coordinator.CreatePost("hello", &ImageUpload{FileName: "photo.jpg", Data: []byte{1}})
	assert.Equal(t, err, nil)
	assert.Equal(t, post.PostId, "p9")

	feed := coordinator.FeedPosts()
	assert.Equal(t, feed[0].PostId, "p9")
	userPosts := coordinator.UserPosts("u1")
	assert.Equal(t, userPosts[0].PostId, "p9")
}

func TestCreatePostFailureInsertsNothing(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	gateway.createPost = func(ctx context.Context, content string, image *ImageUpload) (*Post, error) {
		return nil, &ApiError{StatusCode: 500, Message: "unavailable"}
	}
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()
	coordinator.FetchFeed()

	_, err := coordinator.CreatePost("hello", nil)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, len(coordinator.FeedPosts()), 1)
	assert.Equal(t, len(coordinator.UserPosts("u1")), 0)
}

func TestChangeCallbackFires(t *testing.T) {
	ctx := context.Background()
	gateway := feedGateway(testPost("p1", "u1"))
	coordinator := NewPostsCoordinatorWithDefaults(ctx, gateway, "u1")
	defer coordinator.Close()

	changes := 0
	unsub := coordinator.AddChangeCallback(func() {
		changes += 1
	})

	coordinator.FetchFeed()
	assert.Equal(t, 0 < changes, true)

	before := changes
	unsub()
	coordinator.ToggleLike("p1")
	assert.Equal(t, changes, before)
}
