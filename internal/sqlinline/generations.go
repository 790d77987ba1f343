package sqlinline

const QListGenerationsByCell = `--sql 4d7e2f58-93ab-4c60-a1d4-5e8b0c6f72e3
select g.id, g.prompt, g.resolved_prompt, g.output, g.model, g.temperature,
       g.type, g.status, g.job_id, g.created_at
from generations g
join sheets s on s.id = g.sheet_id
where lower(s.name) = lower($1::text)
  and g.cell_id = $2::text
order by g.created_at desc, g.id desc;
`

const QListGenerationsBySheet = `--sql a9e05c37-48d2-4f81-b6ca-1f73d2e8b405
select g.cell_id, g.id, g.prompt, g.resolved_prompt, g.output, g.model,
       g.temperature, g.type, g.status, g.job_id, g.created_at
from generations g
join sheets s on s.id = g.sheet_id
where lower(s.name) = lower($1::text)
order by g.created_at desc, g.id desc;
`

const QInsertGeneration = `--sql b1c6d0aa-5f27-4e91-bd38-90a4e7c215f6
insert into generations (id, sheet_id, cell_id, prompt, resolved_prompt,
                         output, model, temperature, type, status, job_id,
                         created_at)
values ($3::uuid,
        (select id from sheets where lower(name) = lower($1::text)),
        $2::text, $4::text, $5::text,
        $6::text, $7::text, $8::float8, $9::text, $10::text, $11::text,
        $12::timestamptz);
`

const QUpdateGeneration = `--sql 97f3a8d1-2c6e-4b70-8a45-dd1e0b92c7a8
update generations
set output = $2::text,
    status = $3::text,
    job_id = $4::text
where id = $1::uuid;
`

const QListPendingJobs = `--sql 2e84b6f0-1d9c-47a3-9e62-c5f708a3d4b1
select s.name, g.cell_id, s.owner_id, g.id, g.job_id, g.type
from generations g
join sheets s on s.id = g.sheet_id
where g.status = 'pending'
  and g.job_id is not null
order by g.created_at asc;
`
