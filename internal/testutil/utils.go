package testutil

import (
	"log"
	"os"
	"testing"

	"github.com/npezzotti/go-roomchat/internal/database"
	"github.com/npezzotti/go-roomchat/internal/types"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// MemoryRepo returns an in-memory repository seeded with users named after
// the given nicknames, with ids starting at 1.
func MemoryRepo(t *testing.T, nicknames ...string) *database.MemoryChatRepository {
	t.Helper()

	repo := database.NewMemoryChatRepository()
	for i, nick := range nicknames {
		repo.AddUser(types.User{Id: i + 1, Username: nick, Nickname: nick})
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}
