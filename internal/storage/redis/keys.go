package redis

import (
	"fmt"
	"strconv"

	"github.com/mcoot/coinfall/internal/model"
)

// accountKey returns the Redis key for a UserAccount
func accountKey(prefix string, id model.UserID) string {
	return fmt.Sprintf("%s:account:%d", prefix, id)
}

// leaderboardKey returns the Redis key for the balance sorted set
func leaderboardKey(prefix string) string {
	return fmt.Sprintf("%s:idx:balance", prefix)
}

// member encodes a user id as a sorted set member
func member(id model.UserID) string {
	return strconv.FormatInt(int64(id), 10)
}
