package database

import "slices"

// ToggleReaction returns a copy of reactions with userId's membership in
// emoji's user set flipped. Emoji keys whose user set would become empty
// are removed entirely.
func ToggleReaction(reactions Reactions, emoji string, userId int) Reactions {
	updated := make(Reactions, len(reactions))
	for k, users := range reactions {
		updated[k] = slices.Clone(users)
	}

	users := updated[emoji]
	if i := slices.Index(users, userId); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(updated, emoji)
		} else {
			updated[emoji] = users
		}
		return updated
	}

	updated[emoji] = append(users, userId)
	return updated
}
