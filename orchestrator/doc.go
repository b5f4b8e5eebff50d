// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package orchestrator implements the Task Orchestrator: the component
that takes a submitted task definition, selects a coding-agent provider
for it, drives that provider's adapter through execution, and persists
every state transition.

# Submission

Submit is idempotent per caller-supplied client ID: resubmitting the
same ID returns the existing Task rather than starting a second
run. A task that cannot be matched to any enabled provider is
rejected up front when Options.FailIfNoProvider is set; otherwise it is
persisted as pending with no provider assigned, and the Orchestrator
does not start it later on its own.

# Execution

Each running task owns one goroutine. Per attempt: the task is marked
running, the resolved adapter is asked to execute, its event stream is
forwarded to subscribers, and on completion or failure the task's
final state is written through the Store in a single transition. A
failed attempt is handed to the recovery manager, which decides
whether to retry, roll back, restore from checkpoint, or abort.

# Subscription

Subscribe replays a task's full event history before delivering live
events, so a subscriber that attaches after a task has already produced
output sees the same ordered stream as one that attached at the start.
*/
package orchestrator
