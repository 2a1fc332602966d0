package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合开发后端的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Backend BackendConfig
}

// Load 从环境变量加载开发后端配置。
func Load() (*Config, error) {
	server, err := loadServerConfig("PORT", "8080")
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Backend: loadBackendConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(key, defaultPort string) (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv(key))
	if port == "" {
		port = defaultPort
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid %s value: %q", key, port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// BackendConfig 描述开发后端模拟的聊天机器人。
type BackendConfig struct {
	// Chatbots 是允许访问的 x-chatbot-id 列表，其余一律返回 401。
	Chatbots     []string
	DisplayName  string
	Avatar       string
	PrimaryColor string
}

func loadBackendConfig() BackendConfig {
	chatbots := parseListEnv("API_CHATBOTS")
	if len(chatbots) == 0 {
		chatbots = []string{"demo"}
	}
	return BackendConfig{
		Chatbots:     chatbots,
		DisplayName:  getEnvOrDefault("API_DISPLAY_NAME", "Support"),
		Avatar:       getEnvOrDefault("API_AVATAR", ""),
		PrimaryColor: getEnvOrDefault("API_PRIMARY_COLOR", "#2563eb"),
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// WidgetConfig 描述挂件宿主进程的配置。
type WidgetConfig struct {
	Server     ServerConfig
	BackendURL string
	ChatbotID  string
	// AuthGrace 是 401 提示展示多久后移除挂件。
	AuthGrace      time.Duration
	ToastTTL       time.Duration
	RequestTimeout time.Duration
	SubTopicFirst  bool
	Paths          []string
	Blacklist      []string
	Standalone     []string
	DBPath         string
	// RedisAddr 为空时使用进程内广播。
	RedisAddr     string
	RedisPassword string
}

// LoadWidget 从环境变量加载挂件宿主配置。
func LoadWidget() (*WidgetConfig, error) {
	server, err := loadServerConfig("WIDGET_ADDR", "8090")
	if err != nil {
		return nil, err
	}

	grace, err := parseDurationEnv("WIDGET_AUTH_GRACE", 3*time.Second)
	if err != nil {
		return nil, err
	}

	ttl, err := parseDurationEnv("WIDGET_TOAST_TTL", 3*time.Second)
	if err != nil {
		return nil, err
	}

	timeout, err := parseDurationEnv("WIDGET_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	subTopicFirst, err := parseBoolEnv("WIDGET_SUBTOPIC_FIRST", false)
	if err != nil {
		return nil, err
	}

	chatbotID := strings.TrimSpace(os.Getenv("WIDGET_CHATBOT_ID"))
	if chatbotID == "" {
		return nil, fmt.Errorf("WIDGET_CHATBOT_ID is required")
	}

	return &WidgetConfig{
		Server:         server,
		BackendURL:     strings.TrimRight(getEnvOrDefault("WIDGET_BACKEND_URL", "http://localhost:8080"), "/"),
		ChatbotID:      chatbotID,
		AuthGrace:      grace,
		ToastTTL:       ttl,
		RequestTimeout: timeout,
		SubTopicFirst:  subTopicFirst,
		Paths:          parseListEnv("WIDGET_PATHS"),
		Blacklist:      parseListEnv("WIDGET_BLACKLIST"),
		Standalone:     parseListEnv("WIDGET_STANDALONE"),
		DBPath:         getEnvOrDefault("WIDGET_DB_PATH", "widget.db"),
		RedisAddr:      strings.TrimSpace(os.Getenv("WIDGET_REDIS_ADDR")),
		RedisPassword:  os.Getenv("WIDGET_REDIS_PASSWORD"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 支持 "3s" 这类时长，也接受纯数字毫秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

// parseListEnv 解析逗号分隔的列表，忽略空项。
func parseListEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
