// ABOUTME: Keyspace and table bootstrap for the Scylla message store
// ABOUTME: Run once via the chat-server init subcommand before serving

package store

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// schemaTables holds one CREATE TABLE statement per table. Partition and
// clustering keys are part of the read-path contract and must not change.
var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id uuid,
		created_at timestamp,
		message_id uuid,
		user_id uuid,
		content text,
		media_urls list<text>,
		media_meta map<text, text>,
		is_deleted boolean,
		deleted_at timestamp,
		edited_at timestamp,
		edited_by uuid,
		version bigint,
		PRIMARY KEY ((chat_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, message_id ASC)`,

	`CREATE TABLE IF NOT EXISTS messages_by_id (
		message_id uuid PRIMARY KEY,
		chat_id uuid,
		created_at timestamp,
		user_id uuid,
		content text,
		media_urls list<text>,
		media_meta map<text, text>,
		is_deleted boolean,
		deleted_at timestamp,
		edited_at timestamp,
		edited_by uuid,
		version bigint
	)`,

	`CREATE TABLE IF NOT EXISTS message_edits (
		message_id uuid,
		edit_id uuid,
		edited_at timestamp,
		editor uuid,
		old_content text,
		new_content text,
		meta map<text, text>,
		PRIMARY KEY ((message_id), edit_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_chats (
		user_id uuid,
		chat_id uuid,
		PRIMARY KEY ((user_id), chat_id)
	)`,
}

// EnsureSchema creates the keyspace and all tables if they do not exist.
// It connects without a keyspace first, so it works against a fresh cluster.
func EnsureSchema(hosts []string, keyspace string, replicationFactor int) error {
	if replicationFactor < 1 {
		replicationFactor = 1
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("connecting for schema setup: %w", err)
	}

	createKeyspace := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		keyspace, replicationFactor,
	)
	if err := session.Query(createKeyspace).Exec(); err != nil {
		session.Close()
		return fmt.Errorf("creating keyspace: %w", err)
	}
	session.Close()

	cluster.Keyspace = keyspace
	session, err = cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("connecting to keyspace %s: %w", keyspace, err)
	}
	defer session.Close()

	for _, ddl := range schemaTables {
		if err := session.Query(ddl).Exec(); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	return nil
}
