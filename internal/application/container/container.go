package container

import (
	"pmexec/internal/application/port"
	"pmexec/internal/application/service"
)

// Deps carries the ports and tuning the services are wired from.
type Deps struct {
	Store    port.Store
	Broker   port.Broker
	Journal  port.RiskJournal // nil keeps risk state process-local
	Notifier port.Notifier    // nil disables alerting

	Executor   service.ExecutorConfig
	Risk       service.RiskStateConfig
	Supervisor service.SupervisorConfig
	Intake     service.IntakeConfig
}

// Container wires the execution services lazily on first access.
type Container struct {
	deps Deps

	alerts     *service.AlertDispatcher
	risk       *service.RiskState
	executor   *service.Executor
	supervisor *service.Supervisor
	intake     *service.Intake
}

func New(deps Deps) *Container {
	return &Container{deps: deps}
}

func (c *Container) Store() port.Store   { return c.deps.Store }
func (c *Container) Broker() port.Broker { return c.deps.Broker }

func (c *Container) Alerts() *service.AlertDispatcher {
	if c.alerts == nil {
		c.alerts = service.NewAlertDispatcher(c.deps.Notifier, 64)
	}
	return c.alerts
}

func (c *Container) Risk() *service.RiskState {
	if c.risk == nil {
		c.risk = service.NewRiskState(c.deps.Risk, c.deps.Journal)
	}
	return c.risk
}

func (c *Container) Executor() *service.Executor {
	if c.executor == nil {
		c.executor = service.NewExecutor(c.deps.Executor, c.deps.Broker, c.deps.Store, c.Risk(), c.Alerts())
	}
	return c.executor
}

func (c *Container) Supervisor() *service.Supervisor {
	if c.supervisor == nil {
		c.supervisor = service.NewSupervisor(c.deps.Supervisor, c.deps.Broker, c.deps.Store, c.Risk(), c.Alerts())
	}
	return c.supervisor
}

func (c *Container) Intake() *service.Intake {
	if c.intake == nil {
		c.intake = service.NewIntake(c.deps.Intake, c.deps.Store, c.Executor())
	}
	return c.intake
}

// Close drains pending alerts, then releases the journal and the store.
func (c *Container) Close() error {
	var first error
	if c.alerts != nil {
		if err := c.alerts.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.deps.Journal != nil {
		if err := c.deps.Journal.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.deps.Store != nil {
		if err := c.deps.Store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
