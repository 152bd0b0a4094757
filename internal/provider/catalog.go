package provider

// DefaultCatalog is the built-in model lineup. Keys are resolved from the
// named environment variables by the config package.
func DefaultCatalog() []ModelSpec {
	return []ModelSpec{
		{ID: "gpt-4o", DisplayName: "GPT-4o", Backend: BackendOpenAI, Model: "gpt-4o", APIKeyEnv: "OPENAI_API_KEY"},
		{ID: "claude-sonnet", DisplayName: "Claude Sonnet", Backend: BackendAnthropic, Model: "claude-sonnet-4-5", APIKeyEnv: "ANTHROPIC_API_KEY"},
		{ID: "gemini-pro", DisplayName: "Gemini Pro", Backend: BackendGemini, Model: "gemini-2.5-pro", APIKeyEnv: "GEMINI_API_KEY"},
		{ID: "deepseek-chat", DisplayName: "DeepSeek", Backend: BackendOpenAI, Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1", APIKeyEnv: "DEEPSEEK_API_KEY"},
		{ID: "qwen-max", DisplayName: "Qwen Max", Backend: BackendOpenAI, Model: "qwen-max", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", APIKeyEnv: "QWEN_API_KEY"},
		{ID: "kimi", DisplayName: "Kimi", Backend: BackendOpenAI, Model: "moonshot-v1-32k", BaseURL: "https://api.moonshot.cn/v1", APIKeyEnv: "MOONSHOT_API_KEY"},
		{ID: "glm-4", DisplayName: "GLM-4", Backend: BackendOpenAI, Model: "glm-4-plus", BaseURL: "https://open.bigmodel.cn/api/paas/v4", APIKeyEnv: "ZHIPU_API_KEY"},
	}
}
