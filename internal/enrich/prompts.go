package enrich

const summaryInstructions = `You're an intelligent AI assistant who likes responding in JSON.

The user will provide you with a conversation between an AI chatbot and a user.
Your task is to briefly - in 1-2 sentences - summarize the main topics covered within the conversation.
You'll also provide a list of "tags" - these are keywords / short phrases that characterize the conversation.
Tags ought to be lowercase, and relevant to the conversation content. Include between %d-%d tags.`

const labelInstructions = `You're an intelligent AI assistant who likes responding in JSON.

The user will provide you with a list of conversation summaries from a cluster of related conversations.
Your task is to analyze these summaries and identify the common themes and topics that unite them.

You'll provide:
1. A brief, descriptive title for the cluster that captures its main theme
2. A 1-2 sentence description explaining what types of conversations are in this cluster and what unites them

Please ensure your response is concise but informative, focusing on the key patterns that emerge from the conversation cluster.`
