package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"flock.social/client"
)

const FlockCtlVersion = "0.0.1"

const DefaultApiUrl = "https://api.flock.social"
const DefaultRealtimeUrl = "wss://realtime.flock.social"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Flock control.

The default urls are:
    api_url: %s
    realtime_url: %s

Usage:
    flockctl login [--api_url=<api_url>]
        --user_auth=<user_auth>
        [--password=<password>]
    flockctl feed [--api_url=<api_url>] --jwt=<jwt>
    flockctl explore [--api_url=<api_url>] --jwt=<jwt>
    flockctl bookmarks [--api_url=<api_url>] --jwt=<jwt>
    flockctl post [--api_url=<api_url>] --jwt=<jwt>
        [--image=<image>]
        <content>
    flockctl like [--api_url=<api_url>] --jwt=<jwt> <post_id>
    flockctl comment [--api_url=<api_url>] --jwt=<jwt>
        <post_id> <content>
    flockctl delete [--api_url=<api_url>] --jwt=<jwt> <post_id>
    flockctl conversations [--api_url=<api_url>] --jwt=<jwt>
    flockctl send [--api_url=<api_url>] [--realtime_url=<realtime_url>]
        --jwt=<jwt>
        <conversation_id> <message>
    flockctl watch [--api_url=<api_url>] [--realtime_url=<realtime_url>]
        --jwt=<jwt>
        <conversation_id>
        [--message_count=<message_count>]

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --api_url=<api_url>
    --realtime_url=<realtime_url>
    --user_auth=<user_auth>          Email or username.
    --password=<password>
    --jwt=<jwt>                      Your platform JWT.
    --image=<image>                  Path of an image to attach.
    --message_count=<message_count>  Print this many messages then exit.`,
		DefaultApiUrl,
		DefaultRealtimeUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FlockCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if feed_, _ := opts.Bool("feed"); feed_ {
		feed(opts)
	} else if explore_, _ := opts.Bool("explore"); explore_ {
		explore(opts)
	} else if bookmarks_, _ := opts.Bool("bookmarks"); bookmarks_ {
		bookmarks(opts)
	} else if post_, _ := opts.Bool("post"); post_ {
		createPost(opts)
	} else if like_, _ := opts.Bool("like"); like_ {
		like(opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deletePost(opts)
	} else if conversations_, _ := opts.Bool("conversations"); conversations_ {
		conversations(opts)
	} else if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func apiUrl(opts docopt.Opts) string {
	if apiUrlAny := opts["--api_url"]; apiUrlAny != nil {
		return apiUrlAny.(string)
	}
	return DefaultApiUrl
}

func realtimeUrl(opts docopt.Opts) string {
	if realtimeUrlAny := opts["--realtime_url"]; realtimeUrlAny != nil {
		return realtimeUrlAny.(string)
	}
	return DefaultRealtimeUrl
}

func newApi(ctx context.Context, opts docopt.Opts) *client.FlockApi {
	api := client.NewFlockApiWithContext(ctx, apiUrl(opts))
	if jwt, err := opts.String("--jwt"); err == nil {
		api.SetByJwt(jwt)
	}
	return api
}

func newPostsCoordinator(ctx context.Context, opts docopt.Opts) *client.PostsCoordinator {
	api := newApi(ctx, opts)
	byJwt, err := client.ParseByJwtUnverified(api.ByJwt())
	if err != nil {
		panic(err)
	}
	return client.NewPostsCoordinatorWithDefaults(ctx, api, byJwt.UserId)
}

func login(opts docopt.Opts) {
	userAuth, _ := opts.String("--user_auth")

	var password string
	if password_, err := opts.String("--password"); err == nil {
		password = password_
	} else {
		fmt.Print("Password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			panic(err)
		}
		password = string(passwordBytes)
	}

	ctx := context.Background()
	api := client.NewFlockApiWithContext(ctx, apiUrl(opts))

	result, err := api.AuthLoginSync(ctx, &client.AuthLoginArgs{
		Email:    userAuth,
		Password: password,
	})
	if err != nil {
		panic(err)
	}
	if result.Error != nil {
		Err.Fatalf("login error: %s", result.Error.Message)
	}

	Out.Printf("%s", result.ByJwt)
}

func feed(opts docopt.Opts) {
	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	if err := coordinator.FetchFeed(); err != nil {
		panic(err)
	}
	printPosts(coordinator.FeedPosts())
}

func explore(opts docopt.Opts) {
	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	if err := coordinator.FetchExplore(); err != nil {
		panic(err)
	}
	printPosts(coordinator.ExplorePosts())
}

func bookmarks(opts docopt.Opts) {
	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	if err := coordinator.FetchBookmarks(); err != nil {
		panic(err)
	}
	printPosts(coordinator.BookmarkedPosts())
}

func printPosts(posts []*client.Post) {
	for _, post := range posts {
		Out.Printf(
			"%s %s @%s likes=%d comments=%d\n    %s",
			post.CreatedAt.Format(time.RFC3339),
			post.PostId,
			post.Username,
			len(post.Likes),
			len(post.Comments),
			post.Content,
		)
	}
}

func createPost(opts docopt.Opts) {
	content, _ := opts.String("<content>")

	var image *client.ImageUpload
	if imagePath, err := opts.String("--image"); err == nil {
		imageBytes, err := os.ReadFile(imagePath)
		if err != nil {
			panic(err)
		}
		image = &client.ImageUpload{
			FileName: filepath.Base(imagePath),
			Data:     imageBytes,
		}
	}

	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	post, err := coordinator.CreatePost(content, image)
	if err != nil {
		panic(err)
	}
	Out.Printf("%s", post.PostId)
}

func like(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")

	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	// the cache must hold the post before a membership toggle
	if err := coordinator.FetchFeed(); err != nil {
		panic(err)
	}
	if err := coordinator.ToggleLike(postId); err != nil {
		panic(err)
	}
}

func comment(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")
	content, _ := opts.String("<content>")

	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	result, err := coordinator.AddComment(postId, content)
	if err != nil {
		panic(err)
	}
	Out.Printf("%s", result.CommentId)
}

func deletePost(opts docopt.Opts) {
	postId, _ := opts.String("<post_id>")

	ctx := context.Background()
	coordinator := newPostsCoordinator(ctx, opts)
	if err := coordinator.DeletePost(postId); err != nil {
		panic(err)
	}
}

func conversations(opts docopt.Opts) {
	ctx := context.Background()
	api := newApi(ctx, opts)
	byJwt, err := client.ParseByJwtUnverified(api.ByJwt())
	if err != nil {
		panic(err)
	}
	coordinator := client.NewMessagesCoordinatorWithDefaults(ctx, api, byJwt.UserId)
	if err := coordinator.FetchConversations(); err != nil {
		panic(err)
	}
	for _, conversation := range coordinator.Conversations() {
		last := ""
		if conversation.LastMessage != nil {
			last = conversation.LastMessage.Content
		}
		Out.Printf(
			"%s %s %s\n    %s",
			conversation.ActivityTime().Format(time.RFC3339),
			conversation.ConversationId,
			conversation.Type,
			last,
		)
	}
}

func send(opts docopt.Opts) {
	conversationId, _ := opts.String("<conversation_id>")
	message, _ := opts.String("<message>")

	ctx := context.Background()
	api := newApi(ctx, opts)
	byJwt, err := client.ParseByJwtUnverified(api.ByJwt())
	if err != nil {
		panic(err)
	}
	coordinator := client.NewMessagesCoordinatorWithDefaults(ctx, api, byJwt.UserId)
	transport := client.NewRealtimeTransportWithDefaults(ctx, realtimeUrl(opts), api.ByJwt(), coordinator)
	defer transport.Close()
	coordinator.SetSender(transport)

	if err := coordinator.SendMessage(conversationId, message); err != nil {
		panic(err)
	}
}

// print messages for a conversation as they arrive
func watch(opts docopt.Opts) {
	conversationId, _ := opts.String("<conversation_id>")

	messageCount := -1
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	}

	ctx := context.Background()
	api := newApi(ctx, opts)
	byJwt, err := client.ParseByJwtUnverified(api.ByJwt())
	if err != nil {
		panic(err)
	}
	coordinator := client.NewMessagesCoordinatorWithDefaults(ctx, api, byJwt.UserId)
	transport := client.NewRealtimeTransportWithDefaults(ctx, realtimeUrl(opts), api.ByJwt(), coordinator)
	defer transport.Close()
	coordinator.SetSender(transport)

	if err := coordinator.FetchMessages(conversationId); err != nil {
		panic(err)
	}

	printed := map[string]bool{}
	printNew := func() int {
		for _, message := range coordinator.Messages(conversationId) {
			if !printed[message.MessageId] {
				printed[message.MessageId] = true
				Out.Printf(
					"%s %s: %s",
					message.CreatedAt.Format(time.RFC3339),
					message.SenderId,
					message.Content,
				)
			}
		}
		return len(printed)
	}

	update := make(chan struct{}, 1)
	unsub := coordinator.AddChangeCallback(func() {
		select {
		case update <- struct{}{}:
		default:
		}
	})
	defer unsub()

	coordinator.JoinConversation(conversationId)
	defer coordinator.LeaveConversation(conversationId)

	for {
		n := printNew()
		if 0 <= messageCount && messageCount <= n {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-update:
		}
	}
}
