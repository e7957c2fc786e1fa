// Package tokens counts model tokens for persisted assistant messages.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding used for every supported model
const Encoding = "cl100k_base"

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter counts tokens with a shared BPE encoding
type Counter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	counterInstance *Counter
	counterOnce     sync.Once
	counterErr      error
)

// Default returns the process-wide counter, loading the encoding once
func Default() (*Counter, error) {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(Encoding)
		if err != nil {
			counterErr = err
			return
		}
		counterInstance = &Counter{encoding: enc}
	})

	if counterErr != nil {
		return nil, counterErr
	}
	return counterInstance, nil
}

// Count returns the number of tokens in text. A nil counter counts zero.
func (c *Counter) Count(text string) int {
	if c == nil || text == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.encoding.Encode(text, nil, nil))
}
