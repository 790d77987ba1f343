// Package sqlinline keeps every SQL statement in one place as named
// constants, so queries stay reviewable and lintable away from the Go code
// that binds them.
package sqlinline

const QSelectSheetByName = `--sql 3f6f2a1c-9f1e-4f0a-8f68-80f2a5c97f11
select id, name, owner_id, created_at, updated_at
from sheets
where lower(name) = lower($1::text)
limit 1;
`

const QListSheets = `--sql 8a0c4b7e-2d51-44c9-9a3e-6f19c2ab54d2
select id, name, owner_id, created_at, updated_at
from sheets
order by lower(name);
`
