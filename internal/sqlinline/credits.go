package sqlinline

const QGetOrCreateLedger = `--sql 7a25c9e4-8b30-4f16-9d7c-e1b64f08a2d5
with created as (
    insert into credit_ledgers (user_id, plan, current_credits, total_credits, last_reset, next_reset)
    values ($1::text, 'free', 100, 100, now(), date_trunc('month', now()) + interval '1 month')
    on conflict (user_id) do nothing
    returning user_id, plan, current_credits, total_credits, last_reset, next_reset
)
select user_id, plan, current_credits, total_credits, last_reset, next_reset from created
union all
select user_id, plan, current_credits, total_credits, last_reset, next_reset
from credit_ledgers
where user_id = $1::text
  and not exists (select 1 from created)
limit 1;
`

const QDeductCredits = `--sql c4f91b28-6e05-4da7-b3f2-07a8d5e61c39
update credit_ledgers
set current_credits = greatest(current_credits - $2::int, 0)
where user_id = $1::text
returning user_id, plan, current_credits, total_credits, last_reset, next_reset;
`

const QSetUserPlan = `--sql 2b6f4d19-3c88-47ae-9b51-8d04c7a2e6f3
insert into credit_ledgers (user_id, plan, current_credits, total_credits, last_reset, next_reset)
values ($1::text, $2::text, $3::int, $3::int, now(), date_trunc('month', now()) + interval '1 month')
on conflict (user_id) do update
set plan = excluded.plan,
    current_credits = excluded.current_credits,
    total_credits = excluded.total_credits
returning user_id, plan, current_credits, total_credits, last_reset, next_reset;
`

const QResetLedger = `--sql 5d0a7e83-94c1-4b26-a8f0-3e62b1d97c44
update credit_ledgers
set plan = $2::text,
    current_credits = $3::int,
    total_credits = $4::int,
    last_reset = $5::timestamptz,
    next_reset = $6::timestamptz
where user_id = $1::text
returning user_id, plan, current_credits, total_credits, last_reset, next_reset;
`
