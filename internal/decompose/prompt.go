package decompose

const draftSystemPrompt = `You plan work for a team of coding agents. You split requests into tasks an agent can finish in one session and you only add dependencies that are strictly necessary.`

// draftPrompt is the prompt template for drafting a plan.
const draftPrompt = `Break this request for project %q into subtasks. Each task should be sized for a single agent to complete.

Request:
%s

Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "title": "Short task title",
    "description": "What to do and how to tell it is done",
    "priority": "urgent|high|medium|low",
    "role": "backend|frontend|infra|docs|test",
    "depends_on": ["title of dependency 1", "title of dependency 2"]
  }
]

Guidelines:
- Titles must be unique; depends_on refers to other tasks by exact title
- Tasks should be as independent as possible so agents can run in parallel
- Only add dependencies when truly necessary (task A must complete before task B)
- Use empty array [] for depends_on if there are no dependencies
- Never create circular dependencies
- Use "medium" priority unless the request says otherwise
- Descriptions should end with a concrete check, e.g. "go test ./internal/auth/... passes"`
