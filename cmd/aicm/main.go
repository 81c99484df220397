// aicm is the command-line companion to the AICostManager Go SDK.
//
// Usage:
//
//	# Send one usage record
//	aicm track --api-id openai_chat --service-key "openai::gpt-4o" --payload '{"input_tokens": 10}'
//
//	# Refresh the cached triggered limits
//	aicm limits refresh
//
//	# Check which limits match a scope
//	aicm limits check --service-key "openai::gpt-4o"
//
//	# Inspect the persistent delivery queue
//	aicm queue stats
//
//	# Show version information
//	aicm version
package main

func main() {
	Execute()
}
