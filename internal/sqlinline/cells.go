package sqlinline

const cellColumns = `c.id, c.sheet_id, c.prompt, c.output, c.model, c.temperature,
       c.output_format, c.condition, c.auto_run, c.status, c.job_id,
       c.created_at, c.updated_at`

const QSelectCell = `--sql 6c2b8e94-1a73-4d55-bb0e-4a9f0c31de87
select ` + cellColumns + `
from cells c
join sheets s on s.id = c.sheet_id
where lower(s.name) = lower($1::text)
  and c.id = $2::text
limit 1;
`

const QListCellsBySheet = `--sql e51d97a0-64c8-49b2-8d1f-2b7c55e4aa90
select ` + cellColumns + `
from cells c
join sheets s on s.id = c.sheet_id
where lower(s.name) = lower($1::text);
`

const QUpsertCell = `--sql 0b9ddfc2-7e4a-4b06-9c11-88e3a6f1b2c4
insert into cells (id, sheet_id, prompt, output, model, temperature,
                   output_format, condition, auto_run, status, job_id,
                   created_at, updated_at)
values ($2::text,
        (select id from sheets where lower(name) = lower($1::text)),
        $3::text, $4::text, $5::text, $6::float8,
        $7::text, $8::text, $9::boolean, $10::text, $11::text,
        now(), now())
on conflict (sheet_id, id) do update set
    prompt = excluded.prompt,
    output = excluded.output,
    model = excluded.model,
    temperature = excluded.temperature,
    output_format = excluded.output_format,
    condition = excluded.condition,
    auto_run = excluded.auto_run,
    status = excluded.status,
    job_id = excluded.job_id,
    updated_at = now();
`
