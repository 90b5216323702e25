package commands

import (
	"context"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	t.Run("with nil logger", func(t *testing.T) {
		r := NewRegistry(nil)
		if r == nil {
			t.Fatal("NewRegistry returned nil")
		}
		if r.commands == nil {
			t.Error("commands map not initialized")
		}
		if r.aliases == nil {
			t.Error("aliases map not initialized")
		}
		if r.categories == nil {
			t.Error("categories map not initialized")
		}
	})
}

func TestRegistry_Register_Errors(t *testing.T) {
	r := NewRegistry(nil)

	t.Run("nil command", func(t *testing.T) {
		err := r.Register(nil)
		if err == nil {
			t.Error("expected error for nil command")
		}
	})

	t.Run("empty name", func(t *testing.T) {
		err := r.Register(&Command{
			Name: "",
			Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
				return nil, nil
			},
		})
		if err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		err := r.Register(&Command{
			Name:    "模型列表",
			Handler: nil,
		})
		if err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("alias conflicts with existing command", func(t *testing.T) {
		handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
			return nil, nil
		}
		r := NewRegistry(nil)
		r.Register(&Command{Name: "重载", Handler: handler})

		// 模型更换's alias collides with the already-registered 重载 command.
		err := r.Register(&Command{
			Name:    "模型更换",
			Aliases: []string{"重载"},
			Handler: handler,
		})
		// Should succeed, with the conflicting alias dropped (logged as a warning).
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("name conflicts with existing alias", func(t *testing.T) {
		handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
			return nil, nil
		}
		r := NewRegistry(nil)
		r.Register(&Command{Name: "重载", Aliases: []string{"热重载"}, Handler: handler})

		err := r.Register(&Command{
			Name:    "热重载", // already registered as an alias of 重载
			Handler: handler,
		})
		if err == nil {
			t.Error("expected error when name conflicts with existing alias")
		}
	})
}

func TestRegistry_Unregister(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}

	t.Run("unregister existing command", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(&Command{
			Name:     "上下文清理",
			Aliases:  []string{"删除上下文"},
			Category: "context",
			Handler:  handler,
		})

		if !r.Unregister("上下文清理") {
			t.Error("Unregister returned false for existing command")
		}

		// Should no longer find by name or alias
		if _, found := r.Get("上下文清理"); found {
			t.Error("command still found after unregister")
		}
		if _, found := r.Get("删除上下文"); found {
			t.Error("alias still found after unregister")
		}
	})

	t.Run("unregister nonexistent command", func(t *testing.T) {
		r := NewRegistry(nil)
		if r.Unregister("不存在") {
			t.Error("Unregister returned true for nonexistent command")
		}
	})

	t.Run("unregister with empty category", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Register(&Command{
			Name:    "提示词",
			Handler: handler,
		})

		if !r.Unregister("提示词") {
			t.Error("Unregister failed")
		}
	})
}

func TestRegistry_Get(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{
		Name:    "重载",
		Aliases: []string{"热重载", "reload"},
		Handler: handler,
	})

	t.Run("by name", func(t *testing.T) {
		cmd, found := r.Get("重载")
		if !found || cmd == nil {
			t.Error("command not found by name")
		}
	})

	t.Run("by alias", func(t *testing.T) {
		cmd, found := r.Get("热重载")
		if !found || cmd == nil {
			t.Error("command not found by alias")
		}
		if cmd.Name != "重载" {
			t.Error("wrong command returned for alias")
		}
	})

	t.Run("case insensitive ascii alias", func(t *testing.T) {
		cmd, found := r.Get("RELOAD")
		if !found || cmd == nil {
			t.Error("command not found with uppercase alias")
		}
	})

	t.Run("with whitespace", func(t *testing.T) {
		cmd, found := r.Get("  重载  ")
		if !found || cmd == nil {
			t.Error("command not found with surrounding whitespace")
		}
	})

	t.Run("nonexistent", func(t *testing.T) {
		_, found := r.Get("不存在")
		if found {
			t.Error("found nonexistent command")
		}
	})
}

func TestRegistry_List(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{Name: "模型查询", Handler: handler})
	r.Register(&Command{Name: "模型列表", Handler: handler})
	r.Register(&Command{Name: "模型更换", Handler: handler})

	list := r.List()
	if len(list) != 3 {
		t.Errorf("List returned %d commands, want 3", len(list))
	}

	// Should be sorted lexicographically by name
	for i := 1; i < len(list); i++ {
		if list[i-1].Name >= list[i].Name {
			t.Errorf("List is not sorted: %q before %q", list[i-1].Name, list[i].Name)
		}
	}
}

func TestRegistry_ListVisible(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{Name: "模型列表", Handler: handler})
	r.Register(&Command{Name: "内部诊断", Hidden: true, Handler: handler})
	r.Register(&Command{Name: "模型查询", Handler: handler})

	visible := r.ListVisible()
	if len(visible) != 2 {
		t.Errorf("ListVisible returned %d commands, want 2", len(visible))
	}

	for _, cmd := range visible {
		if cmd.Hidden {
			t.Errorf("Hidden command %q in visible list", cmd.Name)
		}
	}
}

func TestRegistry_ListByCategory(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{Name: "模型列表", Category: "model", Handler: handler})
	r.Register(&Command{Name: "模型查询", Category: "model", Handler: handler})
	r.Register(&Command{Name: "提示词", Category: "prompt", Handler: handler})
	r.Register(&Command{Name: "内部诊断", Category: "model", Hidden: true, Handler: handler})

	byCategory := r.ListByCategory()

	if len(byCategory["model"]) != 2 {
		t.Errorf("model category has %d visible commands, want 2", len(byCategory["model"]))
	}
	if len(byCategory["prompt"]) != 1 {
		t.Errorf("prompt category has %d visible commands, want 1", len(byCategory["prompt"]))
	}
}

func TestRegistry_Names(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return nil, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{Name: "重载", Aliases: []string{"热重载"}, Handler: handler})
	r.Register(&Command{Name: "帮助", Handler: handler})

	names := r.Names()
	if len(names) != 2 {
		t.Errorf("Names returned %d names, want 2", len(names))
	}

	// Should not include aliases
	for _, name := range names {
		if name == "热重载" {
			t.Error("Names includes alias")
		}
	}
}

func TestRegistry_Execute_EdgeCases(t *testing.T) {
	handler := func(ctx context.Context, inv *Invocation) (*Result, error) {
		return &Result{Text: "ok"}, nil
	}
	r := NewRegistry(nil)
	r.Register(&Command{Name: "模型列表", AcceptsArgs: false, Handler: handler})
	r.Register(&Command{Name: "重载", AdminOnly: true, Handler: handler})

	t.Run("nil invocation", func(t *testing.T) {
		_, err := r.Execute(context.Background(), nil)
		if err == nil {
			t.Error("expected error for nil invocation")
		}
	})

	t.Run("command not found", func(t *testing.T) {
		_, err := r.Execute(context.Background(), &Invocation{Name: "不存在"})
		if err == nil {
			t.Error("expected error for nonexistent command")
		}
	})

	t.Run("args rejected when AcceptsArgs is false", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{
			Name: "模型列表",
			Args: "some args",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Error != "指令 #模型列表 不接受参数" {
			t.Errorf("Error = %q, want the args-rejected message", result.Error)
		}
	})

	t.Run("admin-only rejected for non-admin", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{
			Name:    "重载",
			IsAdmin: false,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Error != "权限不足，此指令仅限管理员使用" {
			t.Errorf("Error = %q, want the admin-rejected message", result.Error)
		}
	})

	t.Run("admin-only allowed for admin", func(t *testing.T) {
		result, err := r.Execute(context.Background(), &Invocation{
			Name:    "重载",
			IsAdmin: true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Error != "" {
			t.Errorf("unexpected error for admin invocation: %q", result.Error)
		}
	})
}
