package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ContextOps is the subset of the context store's API the command
// handler needs. Invocation.SessionKey carries the chat_id for every
// builtin command below.
type ContextOps interface {
	Get(chatID string) (*models.ConversationContext, error)
	SetModel(chatID, model string) error
	SetToolsCall(chatID string, enabled bool) error
	SetCustomPrompt(chatID, text string) error
	DeleteCustomPrompt(chatID string) error
	GetCustomPrompt(chatID string) (string, bool, error)
	Clear(chatID string) error
}

// Reloader is satisfied by the tool registry and the config store; #重载
// invokes both.
type Reloader interface {
	Reload() error
}

// ModelLister exposes the configured model catalogue for 模型列表 and the
// 模型更换 validation check.
type ModelLister interface {
	AvailableModels() []string
}

// RegisterBuiltins wires the fixed command set of spec §4.7 into
// registry. toolReloader and configReloader may each be nil, in which
// case 重载/热重载 skips that side.
func RegisterBuiltins(registry *Registry, ctxOps ContextOps, toolReloader, configReloader Reloader, lister ModelLister) error {
	handlers := []*Command{
		{
			Name:        "模型列表",
			Description: "列出当前可用的模型",
			Category:    "model",
			Handler:     handleModelList(lister),
		},
		{
			Name:        "模型查询",
			Description: "查询当前对话使用的模型",
			Category:    "model",
			Handler:     handleModelQuery(ctxOps),
		},
		{
			Name:        "模型更换",
			Description: "更换当前对话使用的模型",
			Usage:       "模型更换 <model>",
			AcceptsArgs: true,
			Category:    "model",
			Handler:     handleModelSwitch(ctxOps, lister),
		},
		{
			Name:        "工具支持",
			Description: "开启或关闭当前对话的工具调用",
			Usage:       "工具支持 <true|false>",
			AcceptsArgs: true,
			Category:    "tools",
			Handler:     handleToolsToggle(ctxOps),
		},
		{
			Name:        "提示词",
			Description: "查看当前对话的自定义提示词",
			Category:    "prompt",
			Handler:     handlePromptGet(ctxOps),
		},
		{
			Name:        "设定提示词",
			Description: "设定当前对话的自定义提示词",
			Usage:       "设定提示词 <text>",
			AcceptsArgs: true,
			Category:    "prompt",
			Handler:     handlePromptSet(ctxOps),
		},
		{
			Name:        "删除提示词",
			Description: "删除当前对话的自定义提示词",
			Category:    "prompt",
			Handler:     handlePromptDelete(ctxOps),
		},
		{
			Name:        "上下文清理",
			Aliases:     []string{"删除上下文"},
			Description: "清空当前对话的历史上下文",
			Category:    "context",
			Handler:     handleContextClear(ctxOps),
		},
		{
			Name:        "重载",
			Aliases:     []string{"热重载"},
			Description: "重新加载工具插件与系统配置",
			AdminOnly:   true,
			Category:    "admin",
			Handler:     handleReload(toolReloader, configReloader),
		},
	}

	for _, cmd := range handlers {
		if err := registry.Register(cmd); err != nil {
			return fmt.Errorf("commands: register %q: %w", cmd.Name, err)
		}
	}

	help := &Command{
		Name:        "帮助",
		Description: "列出所有可用命令",
		Category:    "general",
		Handler:     handleHelp(registry),
	}
	return registry.Register(help)
}

func handleModelList(lister ModelLister) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if lister == nil {
			return &Result{Text: "当前可用模型: (未配置)"}, nil
		}
		available := lister.AvailableModels()
		if len(available) == 0 {
			return &Result{Text: "当前可用模型: (未配置)"}, nil
		}
		return &Result{Text: "当前可用模型:\n" + strings.Join(available, "\n")}, nil
	}
}

func handleModelQuery(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		cc, err := ctxOps.Get(inv.SessionKey)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: "当前对话使用的模型: " + cc.Model}, nil
	}
}

func handleModelSwitch(ctxOps ContextOps, lister ModelLister) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		model := strings.TrimSpace(inv.Args)
		if model == "" {
			return &Result{Error: "用法: 模型更换 <model>"}, nil
		}
		if lister != nil {
			available := lister.AvailableModels()
			if len(available) > 0 && !contains(available, model) {
				return &Result{Error: fmt.Sprintf("未知模型: %s", model)}, nil
			}
		}
		if err := ctxOps.SetModel(inv.SessionKey, model); err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: "模型已更换为: " + model}, nil
	}
}

func handleToolsToggle(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		val, err := strconv.ParseBool(strings.TrimSpace(inv.Args))
		if err != nil {
			return &Result{Error: "用法: 工具支持 <true|false>"}, nil
		}
		if err := ctxOps.SetToolsCall(inv.SessionKey, val); err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: fmt.Sprintf("工具调用已设置为: %t", val)}, nil
	}
}

func handlePromptGet(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		text, set, err := ctxOps.GetCustomPrompt(inv.SessionKey)
		if err != nil {
			return &Result{Error: err.Error()}, nil
		}
		if !set {
			return &Result{Text: "当前对话未设置自定义提示词"}, nil
		}
		return &Result{Text: "当前自定义提示词:\n" + text}, nil
	}
}

func handlePromptSet(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		text := strings.TrimSpace(inv.Args)
		if text == "" {
			return &Result{Error: "用法: 设定提示词 <text>"}, nil
		}
		if err := ctxOps.SetCustomPrompt(inv.SessionKey, text); err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: "自定义提示词已设定"}, nil
	}
}

func handlePromptDelete(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if err := ctxOps.DeleteCustomPrompt(inv.SessionKey); err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: "自定义提示词已删除"}, nil
	}
}

func handleContextClear(ctxOps ContextOps) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if err := ctxOps.Clear(inv.SessionKey); err != nil {
			return &Result{Error: err.Error()}, nil
		}
		return &Result{Text: "上下文已清空"}, nil
	}
}

func handleReload(toolReloader, configReloader Reloader) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		var failures []string
		if toolReloader != nil {
			if err := toolReloader.Reload(); err != nil {
				failures = append(failures, "工具插件: "+err.Error())
			}
		}
		if configReloader != nil {
			if err := configReloader.Reload(); err != nil {
				failures = append(failures, "系统配置: "+err.Error())
			}
		}
		if len(failures) > 0 {
			return &Result{Error: "重载部分失败: " + strings.Join(failures, "; ")}, nil
		}
		return &Result{Text: "重载完成"}, nil
	}
}

func handleHelp(registry *Registry) CommandHandler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		visible := registry.ListVisible()
		names := make([]string, 0, len(visible))
		lines := make(map[string]string, len(visible))
		for _, cmd := range visible {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			names = append(names, cmd.Name)
			lines[cmd.Name] = fmt.Sprintf("#%s - %s", usage, cmd.Description)
			if cmd.AdminOnly {
				lines[cmd.Name] += " (仅限管理员)"
			}
		}
		sort.Strings(names)
		out := make([]string, 0, len(names))
		for _, name := range names {
			out = append(out, lines[name])
		}
		return &Result{Text: strings.Join(out, "\n")}, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
