package prompts

const extractionPrompt = `I want you to act as a language expert. Your task is given a question
and a proposed answer, extract concise and relevant factual
statements from the proposed answer. Include only statements that
have a truth value and are worth validating, and ignore subjective
claims. You should generate a bullet list of statements that are
potentially true or false based on the question and proposed answer.
Please only reply with the bullet list and nothing else.

Context: %s
Question: %s
Proposed Answer: %s

Output must be a JSON list of strings.`

const majerPrompt = `Classify the extracted claim from the conversation between a human and a language model into one of the following categories:
- NFS: Non-Factual Sentence
- UFS: Unimportant Factual Sentence
- CFS: Check-worthy Factual Sentence

Respond with only one label: NFS, UFS, or CFS. Do not provide any explanation.
Claim:
%s
Context:%s`

const hassanPrompt = `
Question: Will the user be interested in knowing whether (part of) this sentence is true or false?
- NFS: There is no factual claim in this sentence.
- UFS: There is a factual claim but it is unimportant.
- CFS: There is an important factual claim.

Respond with only one label: NFS, UFS, or CFS. Do not provide any explanation.
Sentence:
%s

Context:
%s
`

const taskSystemPrompt = "You are a helpful assistant that classifies user utterances into task categories."

const taskPrompt = `Classify the following user utterance from a conversation with an AI assistant into one of these categories:

- Information seeking: User is asking for factual information, explanations, or help with understanding something
- Creative Writing: User is asking for creative content like stories, poems, scripts, or creative ideas
- Editing: User is asking for help with editing, revising, or improving existing text
- Reasoning: User is asking for logical analysis, problem-solving, or step-by-step thinking
- Brainstorming: User is asking for ideas, suggestions, or exploring possibilities
- Planning: User is asking for help with planning, organizing, or structuring something
- Role playing: User is engaging in role-play, simulation, or acting as someone else
- Others: Any other type of interaction that doesn't fit the above categories

Respond with only the category name. Do not provide any explanation.

User utterance: %s

Conversation context: %s`

const topicSystemPrompt = `You are an annotation expert tasked with categorizing conversations between humans and AI. Review each conversation and assign it to one of these categories: 'Math', 'Coding', or 'Others'. Use the following guidelines: Math: Assign this category if the conversation focuses on mathematical problems or concepts. Coding: Choose this category for conversations that involve actual coding. Others: Use this category for conversations that do not clearly fit into 'Math' or 'Coding,' or are only slightly related to these topics. For generating output: Your response MUST contain the chosen category, formatted as: [[Category]].`

const topicPrompt = "User: \n%s\n\nSystem: \n%s"

const helpfulSystemPrompt = "You are a helpful assistant."
