/*
Package localbase emulates a hosted backend (tables, auth, file storage and
realtime) on top of a local key-value store, so an application can run with
no network and no server.

We implement:

1. Tables of schema-less records, queried through an immutable builder with
equality, inequality and membership filters, single-field ordering and a row
limit.

2. Inserts that assign a fresh id and created_at to every row, and updates and
deletes scoped by the same filters.

3. A session store with a fixed demo user, sign-in and sign-out, auth state
listeners and user metadata updates.

4. File storage that accepts uploads and discards the bytes, handing out a
fixed placeholder URL.

5. Realtime channels that receive committed changes.

# Technical Details

**Storage.**
Everything lives in one bucket of a Bolt file (or an in-memory store for
tests). Each table is a single key, the key prefix followed by the table name,
holding the full array of rows. The session is stored under the prefix plus
"session", which is why "session" is not a valid table name.

**Transactions.**
Every query terminal reads and rewrites the table inside one storage
transaction, so concurrent writers cannot lose each other's updates. Changes
made by a write transaction are recorded as it runs and published only after
it commits: first to the change journal, then to observers such as realtime.

**Encoding.**
Rows are JSON by default, matching what a browser-side store would hold.
Msgpack is available for smaller files. Values are normalized on the way in
(numbers become float64, times become RFC 3339 strings) so a row reads back
exactly as it was returned from Insert.

**Journal.**
With Options.JournalDir set, every committed change is appended to a
checksummed segmented journal (see package journal) and can be replayed with
DB.History.
*/
package localbase
