package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/golang/glog"
)

// coordinates optimistic local mutations with their remote confirmation.
//
// the general sequence for an optimistic mutation is:
// 1. capture the prior value and apply the new value to the store,
//    synchronously, before any network call
// 2. issue the remote operation with a bounded timeout
// 3. on success, nothing further. the optimistic state is already correct
// 4. on failure or timeout, apply the inverse of that specific call's
//    change. each in-flight call rolls back independently against its own
//    captured snapshot, so interleaved calls on the same post unwind in
//    stack order and the surviving call's outcome is the final state

var ErrNotCached = errors.New("entity is not in the session cache")

// remote operations the posts coordinator issues
type PostsGateway interface {
	FetchFeedSync(ctx context.Context) ([]*Post, error)
	FetchExploreSync(ctx context.Context) ([]*Post, error)
	FetchUserPostsSync(ctx context.Context, userId string) ([]*Post, error)
	FetchBookmarksSync(ctx context.Context, userId string) ([]*Post, error)
	ToggleLikeSync(ctx context.Context, postId string) error
	ToggleBookmarkSync(ctx context.Context, postId string) error
	AddCommentSync(ctx context.Context, postId string, content string) (*Comment, error)
	DeletePostSync(ctx context.Context, postId string) error
	CreatePostSync(ctx context.Context, content string, image *ImageUpload) (*Post, error)
}

// fires after any change visible to a materialized view.
// callbacks must not call mutation methods synchronously
type ChangeFunction = func()

type PostsCoordinatorSettings struct {
	// an optimistic ui must never be left permanently inconsistent with
	// the platform, so optimistic calls time out and roll back
	MutationTimeout time.Duration
	FetchTimeout    time.Duration
}

func DefaultPostsCoordinatorSettings() *PostsCoordinatorSettings {
	return &PostsCoordinatorSettings{
		MutationTimeout: 15 * time.Second,
		FetchTimeout:    30 * time.Second,
	}
}

type PostsCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	api PostsGateway

	// session user. likes and bookmarks are membership of this user
	userId string

	// serializes mutation state transitions across the store and views
	stateLock sync.Mutex

	posts *entityStore[*Post]
	views *viewIndex[*Post]

	changeCallbacks *CallbackList[ChangeFunction]

	settings *PostsCoordinatorSettings
}

func NewPostsCoordinatorWithDefaults(
	ctx context.Context,
	api PostsGateway,
	userId string,
) *PostsCoordinator {
	return NewPostsCoordinator(ctx, api, userId, DefaultPostsCoordinatorSettings())
}

func NewPostsCoordinator(
	ctx context.Context,
	api PostsGateway,
	userId string,
	settings *PostsCoordinatorSettings,
) *PostsCoordinator {
	cancelCtx, cancel := context.WithCancel(ctx)

	coordinator := &PostsCoordinator{
		ctx:             cancelCtx,
		cancel:          cancel,
		api:             api,
		userId:          userId,
		views:           newViewIndex[*Post](),
		changeCallbacks: NewCallbackList[ChangeFunction](),
		settings:        settings,
	}
	coordinator.posts = newEntityStore[*Post](coordinator.postChanged)
	return coordinator
}

func (self *PostsCoordinator) UserId() string {
	return self.userId
}

// returns an unsub function
func (self *PostsCoordinator) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *PostsCoordinator) Close() {
	self.cancel()
}

// read surface

func (self *PostsCoordinator) FeedPosts() []*Post {
	return self.views.Materialize(ViewFeed, self.posts)
}

func (self *PostsCoordinator) ExplorePosts() []*Post {
	return self.views.Materialize(ViewExplore, self.posts)
}

func (self *PostsCoordinator) UserPosts(userId string) []*Post {
	return self.views.Materialize(UserPostsView(userId), self.posts)
}

func (self *PostsCoordinator) BookmarkedPosts() []*Post {
	return self.views.Materialize(ViewBookmarks, self.posts)
}

func (self *PostsCoordinator) GetPost(postId string) (*Post, bool) {
	return self.posts.Get(postId)
}

// fetches. on failure the affected view keeps its last known value,
// stale but consistent, and the error surfaces to the caller

func (self *PostsCoordinator) FetchFeed() error {
	return self.fetchView(ViewFeed, self.api.FetchFeedSync)
}

func (self *PostsCoordinator) FetchExplore() error {
	return self.fetchView(ViewExplore, self.api.FetchExploreSync)
}

func (self *PostsCoordinator) FetchUserPosts(userId string) error {
	return self.fetchView(UserPostsView(userId), func(ctx context.Context) ([]*Post, error) {
		return self.api.FetchUserPostsSync(ctx, userId)
	})
}

func (self *PostsCoordinator) FetchBookmarks() error {
	return self.fetchView(ViewBookmarks, func(ctx context.Context) ([]*Post, error) {
		return self.api.FetchBookmarksSync(ctx, self.userId)
	})
}

func (self *PostsCoordinator) fetchView(name ViewName, fetch func(ctx context.Context) ([]*Post, error)) error {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.FetchTimeout)
	defer cancel()

	posts, err := fetch(ctx)
	if err != nil {
		glog.Infof("[pc]fetch %s error = %s\n", name, err)
		return err
	}

	postIds := make([]string, 0, len(posts))
	for _, post := range posts {
		postIds = append(postIds, post.PostId)
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.posts.UpsertMany(posts)
		self.views.SetView(name, postIds)
	}()
	self.viewsChanged()
	glog.V(2).Infof("[pc]fetch %s n=%d\n", name, len(posts))
	return nil
}

// flips the session user's membership of the post's like set.
// applied optimistically. on failure the membership flips back, which
// unwinds interleaved toggles on the same post in stack order
func (self *PostsCoordinator) ToggleLike(postId string) error {
	applied := false
	var wasLiked bool
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		post, ok := self.posts.Get(postId)
		if !ok {
			return
		}
		wasLiked = post.IsLikedBy(self.userId)
		self.posts.Update(postId, setLiked(self.userId, !wasLiked))
		applied = true
	}()
	if !applied {
		return ErrNotCached
	}

	ctx, cancel := context.WithTimeout(self.ctx, self.settings.MutationTimeout)
	defer cancel()

	if err := self.api.ToggleLikeSync(ctx, postId); err != nil {
		// invert this call's flip. the inverse of a toggle is a toggle,
		// so a later still-pending toggle on the same post keeps its
		// own effect and rolls back independently
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()

			self.posts.Update(postId, func(post *Post) *Post {
				return setLiked(self.userId, !post.IsLikedBy(self.userId))(post)
			})
		}()
		glog.Infof("[pc]toggle like rollback %s (wasLiked=%t) = %s\n", postId, wasLiked, err)
		return err
	}
	glog.V(2).Infof("[pc]toggle like %s\n", postId)
	return nil
}

// membership of the bookmarks view rather than a field on the post.
// applied optimistically. the rollback restores positional membership,
// so an undone removal reappears at the index it held
func (self *PostsCoordinator) ToggleBookmark(postId string) error {
	applied := false
	var wasBookmarked bool
	var removedIndex int
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.posts.Get(postId); !ok {
			return
		}
		wasBookmarked = self.views.Contains(ViewBookmarks, postId)
		if wasBookmarked {
			removedIndex = self.views.RemoveFromView(ViewBookmarks, postId)
		} else {
			self.views.Prepend(ViewBookmarks, postId)
		}
		applied = true
	}()
	if !applied {
		return ErrNotCached
	}
	self.viewsChanged()

	ctx, cancel := context.WithTimeout(self.ctx, self.settings.MutationTimeout)
	defer cancel()

	if err := self.api.ToggleBookmarkSync(ctx, postId); err != nil {
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()

			if wasBookmarked {
				// undo the removal at its captured position
				if !self.views.Contains(ViewBookmarks, postId) {
					self.views.InsertAt(ViewBookmarks, postId, removedIndex)
				}
			} else {
				// undo the front insert
				self.views.RemoveFromView(ViewBookmarks, postId)
			}
		}()
		self.viewsChanged()
		glog.Infof("[pc]toggle bookmark rollback %s = %s\n", postId, err)
		return err
	}
	glog.V(2).Infof("[pc]toggle bookmark %s\n", postId)
	return nil
}

// not optimistic. the comment id and timestamp are platform assigned, so
// the append waits for the response. on failure no local state changes
func (self *PostsCoordinator) AddComment(postId string, content string) (*Comment, error) {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.MutationTimeout)
	defer cancel()

	comment, err := self.api.AddCommentSync(ctx, postId, content)
	if err != nil {
		glog.Infof("[pc]add comment %s error = %s\n", postId, err)
		return nil, err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.posts.Update(postId, func(post *Post) *Post {
			next := *post
			// ordered by the platform timestamp, so responses resolving
			// out of order cannot reorder the thread
			comments := slices.Clone(post.Comments)
			i := len(comments)
			for 0 < i && comment.CreatedAt.Before(comments[i-1].CreatedAt) {
				i -= 1
			}
			next.Comments = slices.Insert(comments, i, comment)
			return &next
		})
	}()
	glog.V(2).Infof("[pc]add comment %s %s\n", postId, comment.CommentId)
	return comment, nil
}

// not optimistic, destructive. on success the entity leaves the store and
// every view in the same step, so no view can observe it afterward
func (self *PostsCoordinator) DeletePost(postId string) error {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.MutationTimeout)
	defer cancel()

	if err := self.api.DeletePostSync(ctx, postId); err != nil {
		glog.Infof("[pc]delete %s error = %s\n", postId, err)
		return err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.posts.Remove(postId)
		self.views.RemoveFromAll(postId)
	}()
	self.viewsChanged()
	glog.V(2).Infof("[pc]delete %s\n", postId)
	return nil
}

// insertion is deferred until the platform assigns the post id and the
// final image url. on success the post appears at the top of the feed and
// of the session user's posts. on failure nothing is inserted
func (self *PostsCoordinator) CreatePost(content string, image *ImageUpload) (*Post, error) {
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.MutationTimeout)
	defer cancel()

	post, err := self.api.CreatePostSync(ctx, content, image)
	if err != nil {
		glog.Infof("[pc]create error = %s\n", err)
		return nil, err
	}

	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.posts.UpsertMany([]*Post{post})
		self.views.Prepend(ViewFeed, post.PostId)
		self.views.Prepend(UserPostsView(self.userId), post.PostId)
	}()
	self.viewsChanged()
	glog.V(2).Infof("[pc]create %s\n", post.PostId)
	return post, nil
}

// returns a transform that sets the user's like membership to `liked`
func setLiked(userId string, liked bool) func(*Post) *Post {
	return func(post *Post) *Post {
		next := *post
		if liked {
			if post.IsLikedBy(userId) {
				return post
			}
			likes := make([]string, len(post.Likes), len(post.Likes)+1)
			copy(likes, post.Likes)
			next.Likes = append(likes, userId)
		} else {
			likes := []string{}
			for _, likeUserId := range post.Likes {
				if likeUserId != userId {
					likes = append(likes, likeUserId)
				}
			}
			next.Likes = likes
		}
		return &next
	}
}

func (self *PostsCoordinator) postChanged(postId string) {
	self.views.Invalidate(postId)
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}

func (self *PostsCoordinator) viewsChanged() {
	for _, changeCallback := range self.changeCallbacks.Get() {
		changeCallback()
	}
}
