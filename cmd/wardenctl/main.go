package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Warden server URL")
	agentID := flag.String("agent", "cli-operator", "Agent identity for tool calls")
	flag.Parse()

	fmt.Println("Warden Control CLI")
	fmt.Printf("Server: %s | Agent: %s\n", *server, *agentID)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /tools, /agents, /workflows, /status <workflow-id>, /cancel <workflow-id>")
	fmt.Println("Run a tool: <tool-id> {\"param\": \"value\"}")
	fmt.Println("---")

	fetchTools(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		switch {
		case input == "/tools":
			fetchTools(*server)
		case input == "/agents":
			fetchAgents(*server)
		case input == "/workflows":
			fetchWorkflows(*server)
		case strings.HasPrefix(input, "/status "):
			fetchWorkflowStatus(*server, strings.TrimSpace(strings.TrimPrefix(input, "/status ")))
		case strings.HasPrefix(input, "/cancel "):
			cancelWorkflow(*server, strings.TrimSpace(strings.TrimPrefix(input, "/cancel ")))
		default:
			executeTool(*server, *agentID, input)
		}
	}
}

// envelope mirrors the API response wrapper.
type envelope struct {
	ConstitutionHash string          `json:"constitution_hash"`
	Data             json.RawMessage `json:"data"`
	Error            string          `json:"error"`
}

func getEnvelope(server, path string, v any) error {
	resp, err := http.Get(server + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if env.Error != "" {
		return fmt.Errorf("%s", env.Error)
	}
	return json.Unmarshal(env.Data, v)
}

func fetchTools(server string) {
	var tools []struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		Safety           string `json:"safety"`
		RateLimitPerHour int    `json:"rate_limit_per_hour"`
	}
	if err := getEnvelope(server, "/api/tools", &tools); err != nil {
		printError("Failed to fetch tools: %v", err)
		return
	}
	if len(tools) == 0 {
		fmt.Println("No tools registered.")
		return
	}
	fmt.Println("Available tools:")
	for _, t := range tools {
		fmt.Printf("  %-20s safety=%-8s limit=%d/hr\n", t.ID, t.Safety, t.RateLimitPerHour)
	}
}

func fetchAgents(server string) {
	var agents []struct {
		ID          string `json:"id"`
		Role        string `json:"role"`
		State       string `json:"state"`
		QueueLength int    `json:"queue_length"`
		ActiveTasks int    `json:"active_tasks"`
	}
	if err := getEnvelope(server, "/api/agents", &agents); err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents in the pool.")
		return
	}
	fmt.Println("Agents:")
	for _, a := range agents {
		fmt.Printf("  %-24s %-16s state=%-12s queued=%d active=%d\n",
			a.ID, a.Role, a.State, a.QueueLength, a.ActiveTasks)
	}
}

func fetchWorkflows(server string) {
	var workflows []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		State       string `json:"state"`
		CurrentStep int    `json:"current_step"`
	}
	if err := getEnvelope(server, "/api/workflows", &workflows); err != nil {
		printError("Failed to fetch workflows: %v", err)
		return
	}
	if len(workflows) == 0 {
		fmt.Println("No workflows.")
		return
	}
	fmt.Println("Workflows:")
	for _, w := range workflows {
		fmt.Printf("  %s  %-24s state=%-14s step=%d\n", w.ID, w.Name, w.State, w.CurrentStep)
	}
}

func fetchWorkflowStatus(server, id string) {
	var snap map[string]any
	if err := getEnvelope(server, "/api/workflows/"+id, &snap); err != nil {
		printError("Failed to fetch workflow: %v", err)
		return
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(out))
}

func cancelWorkflow(server, id string) {
	req, _ := http.NewRequest("DELETE", server+"/api/workflows/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		printError("Cancel failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	fmt.Println("Cancelled.")
}

func executeTool(server, agentID, input string) {
	toolID := input
	params := map[string]any{}
	if idx := strings.IndexByte(input, '{'); idx > 0 {
		toolID = strings.TrimSpace(input[:idx])
		if err := json.Unmarshal([]byte(input[idx:]), &params); err != nil {
			printError("Bad params JSON: %v", err)
			return
		}
	}

	body, _ := json.Marshal(map[string]any{
		"agent_id": agentID,
		"tool_id":  toolID,
		"params":   params,
	})
	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+"/api/tools/execute", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	if env.Error != "" {
		printError("Error: %s", env.Error)
		return
	}

	var result struct {
		Status      string         `json:"status"`
		Output      map[string]any `json:"output"`
		Error       string         `json:"error"`
		FailedStage string         `json:"failed_stage"`
		AuditTrail  []struct {
			Stage   string `json:"stage"`
			Outcome string `json:"outcome"`
		} `json:"audit_trail"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		printError("Failed to parse result: %v", err)
		return
	}

	if result.Status == "completed" {
		out, _ := json.MarshalIndent(result.Output, "", "  ")
		fmt.Printf("\033[32mcompleted\033[0m %s\n", string(out))
	} else {
		fmt.Printf("\033[31m%s\033[0m at %s: %s\n", result.Status, result.FailedStage, result.Error)
	}
	fmt.Print("stages: ")
	for i, e := range result.AuditTrail {
		if i > 0 {
			fmt.Print(" -> ")
		}
		mark := "✓"
		if e.Outcome != "passed" {
			mark = "✗"
		}
		fmt.Printf("%s%s", e.Stage, mark)
	}
	fmt.Println()
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
