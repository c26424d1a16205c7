// Package migrate declares the SQL tables behind the ent storage driver and
// creates or upgrades them through ent's schema migrator.
package migrate

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// ConversationsColumns holds the columns for the "conversations" table.
	ConversationsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "ended_at", Type: field.TypeTime, Nullable: true},
		{Name: "end_reason", Type: field.TypeString, Nullable: true},
		{Name: "audio_reference", Type: field.TypeString, Nullable: true},
		{Name: "is_fixture", Type: field.TypeBool, Default: false},
		{Name: "title", Type: field.TypeString, Nullable: true},
		{Name: "summary", Type: field.TypeString, Nullable: true},
		{Name: "active_transcript_version_id", Type: field.TypeString, Nullable: true},
		{Name: "active_memory_version_id", Type: field.TypeString, Nullable: true},
		{Name: "detailed_summary", Type: field.TypeString, Nullable: true, Size: 2147483647},
	}
	// ConversationsTable holds the schema information for the "conversations" table.
	ConversationsTable = &schema.Table{
		Name:       "conversations",
		Columns:    ConversationsColumns,
		PrimaryKey: []*schema.Column{ConversationsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "conversation_user_id_created_at",
				Unique:  false,
				Columns: []*schema.Column{ConversationsColumns[1], ConversationsColumns[2]},
			},
		},
	}

	// JobsColumns holds the columns for the "jobs" table.
	JobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "type", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "conversation_id", Type: field.TypeString, Nullable: true},
		{Name: "payload", Type: field.TypeJSON},
		{Name: "enqueued_at", Type: field.TypeTime},
		{Name: "available_at", Type: field.TypeTime},
		{Name: "started_at", Type: field.TypeTime, Nullable: true},
		{Name: "finished_at", Type: field.TypeTime, Nullable: true},
		{Name: "attempt_count", Type: field.TypeInt, Default: 0},
		{Name: "max_attempts", Type: field.TypeInt, Default: 3},
		{Name: "worker_id", Type: field.TypeString, Nullable: true},
		{Name: "lease_expires_at", Type: field.TypeTime, Nullable: true},
		{Name: "last_error", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "result", Type: field.TypeJSON, Nullable: true},
	}
	// JobsTable holds the schema information for the "jobs" table.
	JobsTable = &schema.Table{
		Name:       "jobs",
		Columns:    JobsColumns,
		PrimaryKey: []*schema.Column{JobsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "job_status_type_available_at",
				Unique:  false,
				Columns: []*schema.Column{JobsColumns[2], JobsColumns[1], JobsColumns[6]},
			},
			{
				Name:    "job_conversation_id",
				Unique:  false,
				Columns: []*schema.Column{JobsColumns[3]},
			},
		},
	}

	// TranscriptVersionsColumns holds the columns for the "transcript_versions" table.
	TranscriptVersionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "conversation_id", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "source", Type: field.TypeString},
		{Name: "segments", Type: field.TypeJSON},
		{Name: "full_text", Type: field.TypeString, Size: 2147483647},
	}
	// TranscriptVersionsTable holds the schema information for the "transcript_versions" table.
	TranscriptVersionsTable = &schema.Table{
		Name:       "transcript_versions",
		Columns:    TranscriptVersionsColumns,
		PrimaryKey: []*schema.Column{TranscriptVersionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "transcript_versions_conversations_transcripts",
				Columns:    []*schema.Column{TranscriptVersionsColumns[1]},
				RefColumns: []*schema.Column{ConversationsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "transcriptversion_conversation_id_created_at",
				Unique:  false,
				Columns: []*schema.Column{TranscriptVersionsColumns[1], TranscriptVersionsColumns[2]},
			},
		},
	}

	// MemoryVersionsColumns holds the columns for the "memory_versions" table.
	MemoryVersionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "conversation_id", Type: field.TypeString},
		{Name: "transcript_version_id", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	// MemoryVersionsTable holds the schema information for the "memory_versions" table.
	MemoryVersionsTable = &schema.Table{
		Name:       "memory_versions",
		Columns:    MemoryVersionsColumns,
		PrimaryKey: []*schema.Column{MemoryVersionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "memory_versions_conversations_memory_versions",
				Columns:    []*schema.Column{MemoryVersionsColumns[1]},
				RefColumns: []*schema.Column{ConversationsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "memoryversion_conversation_id_created_at",
				Unique:  false,
				Columns: []*schema.Column{MemoryVersionsColumns[1], MemoryVersionsColumns[3]},
			},
			{
				Name:    "memoryversion_transcript_version_id",
				Unique:  false,
				Columns: []*schema.Column{MemoryVersionsColumns[2]},
			},
		},
	}

	// MemoriesColumns holds the columns for the "memories" table.
	MemoriesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Unique: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "content", Type: field.TypeString, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "metadata", Type: field.TypeJSON, Nullable: true},
		{Name: "source_conversation_id", Type: field.TypeString},
		{Name: "source_memory_version_id", Type: field.TypeString},
		{Name: "supersedes", Type: field.TypeString, Nullable: true},
	}
	// MemoriesTable holds the schema information for the "memories" table.
	MemoriesTable = &schema.Table{
		Name:       "memories",
		Columns:    MemoriesColumns,
		PrimaryKey: []*schema.Column{MemoriesColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "memory_user_id",
				Unique:  false,
				Columns: []*schema.Column{MemoriesColumns[1]},
			},
		},
	}

	// MemoryVersionMemoriesColumns holds the columns for the "memory_version_memories" table.
	MemoryVersionMemoriesColumns = []*schema.Column{
		{Name: "memory_version_id", Type: field.TypeString},
		{Name: "memory_id", Type: field.TypeString},
		{Name: "position", Type: field.TypeInt},
	}
	// MemoryVersionMemoriesTable holds the schema information for the "memory_version_memories" table.
	MemoryVersionMemoriesTable = &schema.Table{
		Name:       "memory_version_memories",
		Columns:    MemoryVersionMemoriesColumns,
		PrimaryKey: []*schema.Column{MemoryVersionMemoriesColumns[0], MemoryVersionMemoriesColumns[1]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "memory_version_memories_memory_versions_members",
				Columns:    []*schema.Column{MemoryVersionMemoriesColumns[0]},
				RefColumns: []*schema.Column{MemoryVersionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "memory_version_memories_memories_versions",
				Columns:    []*schema.Column{MemoryVersionMemoriesColumns[1]},
				RefColumns: []*schema.Column{MemoriesColumns[0]},
				OnDelete:   schema.NoAction,
			},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		ConversationsTable,
		JobsTable,
		TranscriptVersionsTable,
		MemoryVersionsTable,
		MemoriesTable,
		MemoryVersionMemoriesTable,
	}
)

func init() {
	TranscriptVersionsTable.ForeignKeys[0].RefTable = ConversationsTable
	MemoryVersionsTable.ForeignKeys[0].RefTable = ConversationsTable
	MemoryVersionMemoriesTable.ForeignKeys[0].RefTable = MemoryVersionsTable
	MemoryVersionMemoriesTable.ForeignKeys[1].RefTable = MemoriesTable
}

// Create runs the migration for every table against drv. It only adds
// tables, columns and indexes; nothing is dropped.
func Create(ctx context.Context, drv dialect.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
