package database

// schemaMigrationsTable creates the schema_migrations table for tracking database versions.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    description TEXT
);
`

// initialSchema contains the initial data index schema (version 1).
const initialSchema = `
-- acqtype: kinds of acquisition (corr, hk, weather, ...)
CREATE TABLE IF NOT EXISTS acqtype (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    notes TEXT,

    CHECK (length(name) BETWEEN 1 AND 64)
);

-- archiveinst: instruments producing acquisitions
CREATE TABLE IF NOT EXISTS archiveinst (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    notes TEXT,

    CHECK (length(name) BETWEEN 1 AND 64)
);

-- archiveacq: one data-taking session
CREATE TABLE IF NOT EXISTS archiveacq (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    inst_id INTEGER NOT NULL,
    type_id INTEGER NOT NULL,
    comment TEXT,

    FOREIGN KEY (inst_id) REFERENCES archiveinst(id) ON DELETE RESTRICT,
    FOREIGN KEY (type_id) REFERENCES acqtype(id) ON DELETE RESTRICT,
    CHECK (length(name) BETWEEN 1 AND 64)
);

CREATE INDEX IF NOT EXISTS idx_archiveacq_inst_id ON archiveacq(inst_id);
CREATE INDEX IF NOT EXISTS idx_archiveacq_type_id ON archiveacq(type_id);

-- acquisition-level info records
CREATE TABLE IF NOT EXISTS corracqinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    acq_id INTEGER NOT NULL UNIQUE,
    integration REAL,
    nfreq INTEGER,
    nprod INTEGER,

    FOREIGN KEY (acq_id) REFERENCES archiveacq(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS hfbacqinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    acq_id INTEGER NOT NULL UNIQUE,
    integration REAL,
    nfreq INTEGER,
    nsubfreq INTEGER,
    nbeam INTEGER,

    FOREIGN KEY (acq_id) REFERENCES archiveacq(id) ON DELETE CASCADE
);

-- one row per ATMEL board in a housekeeping acquisition
CREATE TABLE IF NOT EXISTS hkacqinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    acq_id INTEGER NOT NULL,
    atmel_id TEXT NOT NULL,
    atmel_name TEXT NOT NULL,

    FOREIGN KEY (acq_id) REFERENCES archiveacq(id) ON DELETE CASCADE,
    UNIQUE (acq_id, atmel_id)
);

CREATE TABLE IF NOT EXISTS rawadcacqinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    acq_id INTEGER NOT NULL UNIQUE,
    start_time REAL,

    FOREIGN KEY (acq_id) REFERENCES archiveacq(id) ON DELETE CASCADE
);

-- filetype: kinds of file (corr, hk, log, ...)
CREATE TABLE IF NOT EXISTS filetype (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    notes TEXT,

    CHECK (length(name) BETWEEN 1 AND 64)
);

-- archivefile: one logical file of an acquisition
CREATE TABLE IF NOT EXISTS archivefile (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    acq_id INTEGER NOT NULL,
    type_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    size_b INTEGER,
    md5sum TEXT,
    registered DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (acq_id) REFERENCES archiveacq(id) ON DELETE RESTRICT,
    FOREIGN KEY (type_id) REFERENCES filetype(id) ON DELETE RESTRICT,
    UNIQUE (acq_id, name),
    CHECK (length(name) BETWEEN 1 AND 64),
    CHECK (size_b IS NULL OR size_b >= 0),
    CHECK (md5sum IS NULL OR length(md5sum) = 32)
);

CREATE INDEX IF NOT EXISTS idx_archivefile_type_id ON archivefile(type_id);
CREATE INDEX IF NOT EXISTS idx_archivefile_name ON archivefile(name);

-- per-type file info records: at most one per file
CREATE TABLE IF NOT EXISTS corrfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,
    chunk_number INTEGER,
    freq_number INTEGER,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS hfbfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,
    chunk_number INTEGER,
    freq_number INTEGER,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS hkfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,
    atmel_name TEXT NOT NULL,
    chunk_number INTEGER,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS hkpfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS weatherfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,
    date TEXT NOT NULL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE,
    CHECK (length(date) = 8)
);

CREATE TABLE IF NOT EXISTS rawadcfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS calibrationgainfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS digitalgainfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS flaginputfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS miscfileinfo (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL UNIQUE,
    start_time REAL,
    finish_time REAL,
    data_type TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE CASCADE
);

-- storagegroup: logical grouping of nodes
CREATE TABLE IF NOT EXISTS storagegroup (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    small_size INTEGER NOT NULL DEFAULT 0,
    small_group_id INTEGER,
    notes TEXT,

    FOREIGN KEY (small_group_id) REFERENCES storagegroup(id) ON DELETE SET NULL,
    CHECK (length(name) BETWEEN 1 AND 64),
    CHECK (small_size >= 0)
);

-- storagenode: a place where file copies live
CREATE TABLE IF NOT EXISTS storagenode (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    root TEXT,
    host TEXT,
    username TEXT,
    address TEXT,
    group_id INTEGER NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 0,
    auto_import BOOLEAN NOT NULL DEFAULT 0,
    suspect BOOLEAN NOT NULL DEFAULT 0,
    storage_type TEXT NOT NULL DEFAULT 'A',
    max_total_gb REAL NOT NULL DEFAULT -1,
    min_avail_gb REAL NOT NULL DEFAULT 0,
    avail_gb REAL,
    avail_gb_last_checked DATETIME,
    min_delete_age_days REAL NOT NULL DEFAULT 30,
    notes TEXT,

    FOREIGN KEY (group_id) REFERENCES storagegroup(id) ON DELETE RESTRICT,
    CHECK (length(name) BETWEEN 1 AND 64),
    CHECK (storage_type IN ('A', 'T', 'F')),
    CHECK (active IN (0, 1)),
    CHECK (auto_import IN (0, 1)),
    CHECK (suspect IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_storagenode_group_id ON storagenode(group_id);

-- archivefilecopy: a file's copy on one node
CREATE TABLE IF NOT EXISTS archivefilecopy (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL,
    node_id INTEGER NOT NULL,
    has_file TEXT NOT NULL DEFAULT 'N',
    wants_file TEXT NOT NULL DEFAULT 'Y',
    ready BOOLEAN NOT NULL DEFAULT 0,
    size_b INTEGER,
    registered DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_update DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE RESTRICT,
    FOREIGN KEY (node_id) REFERENCES storagenode(id) ON DELETE RESTRICT,
    UNIQUE (file_id, node_id),
    CHECK (has_file IN ('N', 'Y', 'M', 'X')),
    CHECK (wants_file IN ('Y', 'M', 'N')),
    CHECK (ready IN (0, 1)),
    CHECK (size_b IS NULL OR size_b >= 0)
);

CREATE INDEX IF NOT EXISTS idx_archivefilecopy_node_id ON archivefilecopy(node_id);
CREATE INDEX IF NOT EXISTS idx_archivefilecopy_has_file ON archivefilecopy(has_file);

-- archivefilecopyrequest: a request to put a file on a destination node
CREATE TABLE IF NOT EXISTS archivefilecopyrequest (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL,
    node_to_id INTEGER NOT NULL,
    node_from_id INTEGER,
    nice INTEGER NOT NULL DEFAULT 0,
    completed BOOLEAN NOT NULL DEFAULT 0,
    cancelled BOOLEAN NOT NULL DEFAULT 0,
    n_requests INTEGER NOT NULL DEFAULT 1,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    transfer_started DATETIME,
    transfer_completed DATETIME,
    cancelled_at DATETIME,

    FOREIGN KEY (file_id) REFERENCES archivefile(id) ON DELETE RESTRICT,
    FOREIGN KEY (node_to_id) REFERENCES storagenode(id) ON DELETE RESTRICT,
    FOREIGN KEY (node_from_id) REFERENCES storagenode(id) ON DELETE RESTRICT,
    CHECK (completed IN (0, 1)),
    CHECK (cancelled IN (0, 1)),
    CHECK (n_requests >= 1)
);

CREATE INDEX IF NOT EXISTS idx_archivefilecopyrequest_file_id ON archivefilecopyrequest(file_id);
CREATE INDEX IF NOT EXISTS idx_archivefilecopyrequest_node_to_id ON archivefilecopyrequest(node_to_id);
`

// acqFileTypesSchema adds the acquisition-type/file-type association table (version 2).
const acqFileTypesSchema = `
-- acqfiletypes: which file types may occur in which acquisition types
CREATE TABLE IF NOT EXISTS acqfiletypes (
    acq_type_id INTEGER NOT NULL,
    file_type_id INTEGER NOT NULL,

    PRIMARY KEY (acq_type_id, file_type_id),
    FOREIGN KEY (acq_type_id) REFERENCES acqtype(id) ON DELETE RESTRICT,
    FOREIGN KEY (file_type_id) REFERENCES filetype(id) ON DELETE RESTRICT
);
`

// transferActionSchema adds per-edge transfer policy between nodes and groups (version 3).
const transferActionSchema = `
-- storagetransferaction: what to do when a file lands on node_from
CREATE TABLE IF NOT EXISTS storagetransferaction (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_from_id INTEGER NOT NULL,
    group_to_id INTEGER NOT NULL,
    autosync BOOLEAN NOT NULL DEFAULT 0,
    autoclean BOOLEAN NOT NULL DEFAULT 0,

    FOREIGN KEY (node_from_id) REFERENCES storagenode(id) ON DELETE CASCADE,
    FOREIGN KEY (group_to_id) REFERENCES storagegroup(id) ON DELETE CASCADE,
    UNIQUE (node_from_id, group_to_id),
    CHECK (autosync IN (0, 1)),
    CHECK (autoclean IN (0, 1))
);
`
