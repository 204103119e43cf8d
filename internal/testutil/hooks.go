package testutil

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ServerReply is an error reply as a Redis server sends it, such as
// "LOADING Redis is loading the dataset in memory".
type ServerReply string

func (e ServerReply) Error() string { return string(e) }

// RedisError marks ServerReply as a server reply for go-redis.
func (ServerReply) RedisError() {}

var _ redis.Error = ServerReply("")

// ReplyHook is a go-redis hook that answers every command with a fixed
// server reply while it is failing, without reaching the server.
type ReplyHook struct {
	mu    sync.Mutex
	reply error
	hits  int
}

var _ redis.Hook = (*ReplyHook)(nil)

// Fail makes subsequent commands fail with reply.
func (h *ReplyHook) Fail(reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reply = ServerReply(reply)
}

// Recover lets commands through again.
func (h *ReplyHook) Recover() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reply = nil
}

// Hits returns the number of commands answered with the reply.
func (h *ReplyHook) Hits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits
}

func (h *ReplyHook) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reply != nil {
		h.hits++
	}
	return h.reply
}

// DialHook leaves connection setup alone.
func (h *ReplyHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

// ProcessHook fails single commands while the hook is failing.
func (h *ReplyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if err := h.failure(); err != nil {
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

// ProcessPipelineHook fails whole pipelines while the hook is failing.
func (h *ReplyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if err := h.failure(); err != nil {
			for _, cmd := range cmds {
				cmd.SetErr(err)
			}
			return err
		}
		return next(ctx, cmds)
	}
}
