package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// non-2xx outcome from the platform. the body is the error message
type ApiError struct {
	StatusCode int
	Message    string
}

func (self *ApiError) Error() string {
	return fmt.Sprintf("%d: %s", self.StatusCode, self.Message)
}

func (self *ApiError) IsAuthError() bool {
	return self.StatusCode == http.StatusUnauthorized || self.StatusCode == http.StatusForbidden
}

func (self *ApiError) IsNotFound() bool {
	return self.StatusCode == http.StatusNotFound
}

type FlockApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewFlockApi(apiUrl string) *FlockApi {
	return NewFlockApiWithContext(context.Background(), apiUrl)
}

func NewFlockApiWithContext(ctx context.Context, apiUrl string) *FlockApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &FlockApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *FlockApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *FlockApi) ByJwt() string {
	return self.byJwt
}

func (self *FlockApi) Close() {
	self.cancel()
}

type AuthLoginCallback apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	ByJwt string                `json:"token,omitempty"`
	User  *User                 `json:"user,omitempty"`
	Error *AuthLoginResultError `json:"error,omitempty"`
}

type AuthLoginResultError struct {
	Message string `json:"message"`
}

func (self *FlockApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		callback,
	)
}

func (self *FlockApi) AuthLoginSync(ctx context.Context, authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.byJwt,
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type AuthSignupCallback apiCallback[*AuthSignupResult]

type AuthSignupArgs struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthSignupResult struct {
	ByJwt string                 `json:"token,omitempty"`
	User  *User                  `json:"user,omitempty"`
	Error *AuthSignupResultError `json:"error,omitempty"`
}

type AuthSignupResultError struct {
	Message string `json:"message"`
}

func (self *FlockApi) AuthSignup(authSignup *AuthSignupArgs, callback AuthSignupCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/signup", self.apiUrl),
		authSignup,
		self.byJwt,
		&AuthSignupResult{},
		callback,
	)
}

type FetchMeCallback apiCallback[*User]

func (self *FlockApi) FetchMe(callback FetchMeCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/auth/me", self.apiUrl),
		self.byJwt,
		&User{},
		callback,
	)
}

func (self *FlockApi) FetchMeSync(ctx context.Context) (*User, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/auth/me", self.apiUrl),
		self.byJwt,
		&User{},
		NewNoopApiCallback[*User](),
	)
}

type UpdateProfileCallback apiCallback[*User]

type UpdateProfileArgs struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username"`
	Bio      string `json:"bio,omitempty"`
	Link     string `json:"link,omitempty"`
}

func (self *FlockApi) UpdateProfile(updateProfile *UpdateProfileArgs, callback UpdateProfileCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/profile", self.apiUrl),
		updateProfile,
		self.byJwt,
		&User{},
		callback,
	)
}

type FetchPostsCallback apiCallback[[]*Post]

func (self *FlockApi) FetchFeed(callback FetchPostsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/posts/feed", self.apiUrl),
		self.byJwt,
		[]*Post{},
		callback,
	)
}

func (self *FlockApi) FetchFeedSync(ctx context.Context) ([]*Post, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/posts/feed", self.apiUrl),
		self.byJwt,
		[]*Post{},
		NewNoopApiCallback[[]*Post](),
	)
}

func (self *FlockApi) FetchExplore(callback FetchPostsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/posts/explore", self.apiUrl),
		self.byJwt,
		[]*Post{},
		callback,
	)
}

func (self *FlockApi) FetchExploreSync(ctx context.Context) ([]*Post, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/posts/explore", self.apiUrl),
		self.byJwt,
		[]*Post{},
		NewNoopApiCallback[[]*Post](),
	)
}

func (self *FlockApi) FetchUserPostsSync(ctx context.Context, userId string) ([]*Post, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/users/%s/posts", self.apiUrl, userId),
		self.byJwt,
		[]*Post{},
		NewNoopApiCallback[[]*Post](),
	)
}

func (self *FlockApi) FetchBookmarksSync(ctx context.Context, userId string) ([]*Post, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/users/%s/bookmarks", self.apiUrl, userId),
		self.byJwt,
		[]*Post{},
		NewNoopApiCallback[[]*Post](),
	)
}

type FetchUsersCallback apiCallback[[]*User]

func (self *FlockApi) FetchFollowersSync(ctx context.Context, userId string) ([]*User, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/users/%s/followers", self.apiUrl, userId),
		self.byJwt,
		[]*User{},
		NewNoopApiCallback[[]*User](),
	)
}

func (self *FlockApi) FetchFollowingSync(ctx context.Context, userId string) ([]*User, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/users/%s/following", self.apiUrl, userId),
		self.byJwt,
		[]*User{},
		NewNoopApiCallback[[]*User](),
	)
}

type ToggleResult struct {
	Success bool `json:"success"`
}

type ToggleCallback apiCallback[*ToggleResult]

func (self *FlockApi) ToggleLike(postId string, callback ToggleCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/like", self.apiUrl, postId),
		nil,
		self.byJwt,
		&ToggleResult{},
		callback,
	)
}

func (self *FlockApi) ToggleLikeSync(ctx context.Context, postId string) error {
	_, err := post(
		ctx,
		fmt.Sprintf("%s/posts/%s/like", self.apiUrl, postId),
		nil,
		self.byJwt,
		&ToggleResult{},
		NewNoopApiCallback[*ToggleResult](),
	)
	return err
}

func (self *FlockApi) ToggleBookmarkSync(ctx context.Context, postId string) error {
	_, err := post(
		ctx,
		fmt.Sprintf("%s/posts/%s/bookmark", self.apiUrl, postId),
		nil,
		self.byJwt,
		&ToggleResult{},
		NewNoopApiCallback[*ToggleResult](),
	)
	return err
}

type AddCommentCallback apiCallback[*Comment]

type AddCommentArgs struct {
	Content string `json:"content"`
}

func (self *FlockApi) AddComment(postId string, addComment *AddCommentArgs, callback AddCommentCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/posts/%s/comment", self.apiUrl, postId),
		addComment,
		self.byJwt,
		&Comment{},
		callback,
	)
}

func (self *FlockApi) AddCommentSync(ctx context.Context, postId string, content string) (*Comment, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/posts/%s/comment", self.apiUrl, postId),
		&AddCommentArgs{
			Content: content,
		},
		self.byJwt,
		&Comment{},
		NewNoopApiCallback[*Comment](),
	)
}

type DeletePostResult struct {
	Success bool `json:"success"`
}

type DeletePostCallback apiCallback[*DeletePostResult]

func (self *FlockApi) DeletePostSync(ctx context.Context, postId string) error {
	_, err := httpDelete(
		ctx,
		fmt.Sprintf("%s/posts/%s", self.apiUrl, postId),
		self.byJwt,
		&DeletePostResult{},
		NewNoopApiCallback[*DeletePostResult](),
	)
	return err
}

// the final image url is assigned by the platform,
// which is why create is not optimistic
type ImageUpload struct {
	FileName string
	Data     []byte
}

// mirrors the upload part the app builds from the picked file path
func (self *ImageUpload) ContentType() string {
	ext := strings.TrimPrefix(path.Ext(self.FileName), ".")
	if ext == "" {
		return "image/jpeg"
	}
	return fmt.Sprintf("image/%s", ext)
}

type CreatePostCallback apiCallback[*Post]

func (self *FlockApi) CreatePostSync(ctx context.Context, content string, image *ImageUpload) (*Post, error) {
	return postMultipart(
		ctx,
		fmt.Sprintf("%s/posts", self.apiUrl),
		content,
		image,
		self.byJwt,
		&Post{},
		NewNoopApiCallback[*Post](),
	)
}

type FetchConversationsCallback apiCallback[[]*Conversation]

func (self *FlockApi) FetchConversationsSync(ctx context.Context) ([]*Conversation, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/conversations", self.apiUrl),
		self.byJwt,
		[]*Conversation{},
		NewNoopApiCallback[[]*Conversation](),
	)
}

type FetchMessagesCallback apiCallback[[]*Message]

func (self *FlockApi) FetchMessagesSync(ctx context.Context, conversationId string) ([]*Message, error) {
	return get(
		ctx,
		fmt.Sprintf("%s/conversations/%s/messages", self.apiUrl, conversationId),
		self.byJwt,
		[]*Message{},
		NewNoopApiCallback[[]*Message](),
	)
}

type GetOrCreateConversationArgs struct {
	ParticipantId string `json:"participantId"`
}

func (self *FlockApi) GetOrCreateConversationSync(ctx context.Context, participantId string) (*Conversation, error) {
	return post(
		ctx,
		fmt.Sprintf("%s/conversations", self.apiUrl),
		&GetOrCreateConversationArgs{
			ParticipantId: participantId,
		},
		self.byJwt,
		&Conversation{},
		NewNoopApiCallback[*Conversation](),
	)
}

func post[R any](ctx context.Context, url string, args any, byJwt string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	return doRequest(req, byJwt, result, callback)
}

func get[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return doRequest(req, byJwt, result, callback)
}

func httpDelete[R any](ctx context.Context, url string, byJwt string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return doRequest(req, byJwt, result, callback)
}

func postMultipart[R any](ctx context.Context, url string, content string, image *ImageUpload, byJwt string, result R, callback apiCallback[R]) (R, error) {
	requestBody := &bytes.Buffer{}
	writer := multipart.NewWriter(requestBody)
	if err := writer.WriteField("content", content); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", image.FileName)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
		if _, err := part.Write(image.Data); err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}
	if err := writer.Close(); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, requestBody)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", writer.FormDataContentType())

	return doRequest(req, byJwt, result, callback)
}

func doRequest[R any](req *http.Request, byJwt string, result R, callback apiCallback[R]) (R, error) {
	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode && http.StatusCreated != r.StatusCode {
		// the response body is the error message
		err = &ApiError{
			StatusCode: r.StatusCode,
			Message:    strings.TrimSpace(string(responseBodyBytes)),
		}
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
