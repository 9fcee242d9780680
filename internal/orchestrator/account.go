package orchestrator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
)

const defaultPasswordLength = 16

var firstNames = []string{
	"James", "Emma", "Oliver", "Sophia", "Liam", "Ava", "Noah", "Mia",
	"Lucas", "Isabella", "Henry", "Charlotte", "Ethan", "Amelia", "Leo", "Grace",
}

var lastNames = []string{
	"Smith", "Johnson", "Brown", "Taylor", "Anderson", "Clark", "Wright", "Walker",
	"Hall", "Young", "King", "Scott", "Green", "Baker", "Adams", "Nelson",
}

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*"
)

// generateAccount fabricates fresh account material for one task. The local
// part embeds a random tag so addresses never collide across batches even on
// the same domain; the domain rotates round-robin over the pool.
func (o *Orchestrator) generateAccount(domains []string, index int) *domain.Account {
	first := firstNames[rand.Intn(len(firstNames))]
	last := lastNames[rand.Intn(len(lastNames))]

	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	host := domains[index%len(domains)]
	email := fmt.Sprintf("%s.%s%s@%s", strings.ToLower(first), strings.ToLower(last), tag, host)

	length := o.cfg.Flow.PasswordLength
	if length <= 0 {
		length = defaultPasswordLength
	}

	return &domain.Account{
		Email:     email,
		Password:  generatePassword(length),
		FirstName: first,
		LastName:  last,
	}
}

// generatePassword builds a password that always contains at least one
// character of each class, then shuffles so the class order is not a tell.
func generatePassword(length int) string {
	if length < 8 {
		length = 8
	}

	chars := make([]byte, 0, length)
	chars = append(chars,
		lowerChars[rand.Intn(len(lowerChars))],
		upperChars[rand.Intn(len(upperChars))],
		digitChars[rand.Intn(len(digitChars))],
		symbolChars[rand.Intn(len(symbolChars))],
	)

	all := lowerChars + upperChars + digitChars + symbolChars
	for len(chars) < length {
		chars = append(chars, all[rand.Intn(len(all))])
	}

	rand.Shuffle(len(chars), func(i, j int) {
		chars[i], chars[j] = chars[j], chars[i]
	})

	return string(chars)
}
