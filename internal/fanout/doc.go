// Package fanout delivers persisted chat events to live WebSocket sessions.
//
// # Overview
//
// The fanout package sits between the bus consumer and the session handlers.
// The consumer broadcasts each stored event into the chat's room; every
// session subscribed to that chat reads it from its own receiver.
//
// # Rooms
//
// A room is the set of receivers subscribed to one chat. Rooms are created
// on first subscribe and removed when the last subscriber leaves, so the
// manager's memory tracks only chats that someone is actually watching.
//
// # Receivers
//
// Each subscription owns a bounded receiver buffer. Broadcast never blocks:
// when a session stops reading and its buffer fills, the oldest events are
// overwritten. The next read returns a LagError naming the number of lost
// events, then delivery resumes with the retained ones. Sessions that cannot
// tolerate gaps should drop the connection and re-fetch history over REST.
//
// # User Registry
//
// The manager tracks which chats each user currently receives across all of
// that user's sessions:
//
//	chats := manager.UserChats(userID)
//
// # Usage
//
//	sub, err := manager.Subscribe(userID, chatID)
//	defer manager.Unsubscribe(sub)
//	for {
//	    ev, err := sub.Receiver.Recv(ctx)
//	    ...
//	}
package fanout
