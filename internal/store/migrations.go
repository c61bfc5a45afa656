package store

// child_id carries no foreign key: a spawned_review relationship is
// created when the review slot is reserved, before the child instance
// row exists.
const schema = `
CREATE TABLE IF NOT EXISTS instances (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    worktree_path TEXT NOT NULL DEFAULT '',
    branch TEXT NOT NULL DEFAULT '',
    base_branch TEXT NOT NULL DEFAULT '',
    session_name TEXT NOT NULL DEFAULT '',
    pid INTEGER NOT NULL DEFAULT 0,
    issue_number INTEGER NOT NULL DEFAULT 0,
    pr_number INTEGER NOT NULL DEFAULT 0,
    pr_url TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    last_activity TEXT NOT NULL,
    terminated_at TEXT
);

CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id TEXT NOT NULL REFERENCES instances(id),
    child_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    iteration INTEGER NOT NULL DEFAULT 1,
    metadata TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    UNIQUE (parent_id, child_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_relationships_parent ON relationships(parent_id);
CREATE INDEX IF NOT EXISTS idx_relationships_child ON relationships(child_id);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
`
