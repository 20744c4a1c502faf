// Package places owns the rules that tie places to the users who created them.
//
// Every user keeps a list of the ids of its places. The [Linker] is the only
// code that creates or deletes a place, and it writes the place and that list
// in one transaction scope opened through [Repository.Atomically]. After any
// successful call the list equals the set of places whose CreatorID is the
// user. Ownership is checked before anything is written.
//
//	linker := places.NewLinker(repo, places.WithLogger(logger))
//	p, err := linker.CreateLinked(ctx, places.NewPlace{Title: "Cafe"}, userID)
//	if err != nil {
//	    http.Error(w, places.PublicMessage(err), places.Status(err))
//	    return
//	}
//
// [Accounts] registers users with a unique email and a bcrypt password hash,
// and removes a user together with its places.
//
// Errors are sentinels wrapped with %w. [Classify], [Status] and
// [PublicMessage] turn them into a fault side, an HTTP status and a message
// that never exposes the underlying cause.
package places
